// Package bledb provides UUID normalization helpers and a curated table of
// Bluetooth SIG assigned names used to render readable discovery logs.
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb in normalized (dashless) form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal lookup format:
// lowercase, no dashes, no braces, no 0x prefix. Full 128-bit UUIDs on the
// Bluetooth SIG base are collapsed to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// ExpandUUID returns the full 128-bit dashed form of a UUID. Short 16-bit
// forms are expanded onto the Bluetooth SIG base; already-long UUIDs are
// re-dashed as-is.
func ExpandUUID(uuid string) string {
	s := NormalizeUUID(uuid)
	if len(s) == 4 {
		s = "0000" + s + sigBaseSuffix
	}
	if len(s) != 32 {
		return s
	}
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}

// knownServices maps normalized service UUIDs to SIG assigned names.
var knownServices = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1809": "Health Thermometer",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"1826": "Fitness Machine",
	"fe95": "Xiaomi Inc.",
}

// knownCharacteristics maps normalized characteristic UUIDs to SIG assigned names.
var knownCharacteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a1c": "Temperature Measurement",
	"2a24": "Model Number String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a5b": "CSC Measurement",
	"2a63": "Cycling Power Measurement",
}

// LookupService returns the assigned name for a service UUID, or "" if unknown.
func LookupService(uuid string) string {
	return knownServices[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name for a characteristic UUID,
// or "" if unknown.
func LookupCharacteristic(uuid string) string {
	return knownCharacteristics[NormalizeUUID(uuid)]
}
