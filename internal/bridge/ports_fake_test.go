package bridge

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type centralWrite struct {
	targetHandle uint16
	payload      []byte
	withResponse bool
	seq          uint64
}

type centralSubscribe struct {
	char       DiscoveredCharacteristic
	indication bool
}

// fakeCentral records every call so tests can assert on ordering and
// arguments. It emits nothing on its own; tests drive completions through
// the dispatcher.
type fakeCentral struct {
	connects        []TargetDescriptor
	timeouts        []time.Duration
	svcDiscoveries  []string
	charDiscoveries []string
	subscriptions   []centralSubscribe
	writes          []centralWrite
	disconnects     int
}

func (c *fakeCentral) Connect(desc TargetDescriptor, timeout time.Duration) {
	c.connects = append(c.connects, desc)
	c.timeouts = append(c.timeouts, timeout)
}

func (c *fakeCentral) DiscoverServices(filter string) {
	c.svcDiscoveries = append(c.svcDiscoveries, filter)
}

func (c *fakeCentral) DiscoverCharacteristics(serviceUUID string) {
	c.charDiscoveries = append(c.charDiscoveries, serviceUUID)
}

func (c *fakeCentral) Subscribe(char DiscoveredCharacteristic, indication bool) {
	c.subscriptions = append(c.subscriptions, centralSubscribe{char: char, indication: indication})
}

func (c *fakeCentral) Write(targetHandle uint16, payload []byte, withResponse bool, seq uint64) {
	c.writes = append(c.writes, centralWrite{
		targetHandle: targetHandle,
		payload:      append([]byte(nil), payload...),
		withResponse: withResponse,
		seq:          seq,
	})
}

func (c *fakeCentral) Disconnect() {
	c.disconnects++
}

type peripheralNotify struct {
	localHandle uint16
	payload     []byte
	indication  bool
}

type finishedWrite struct {
	requestID uint64
	err       error
}

type finishedRead struct {
	requestID uint64
	value     []byte
	err       error
}

// fakePeripheral records served tables, advertising and request completions.
// advertiseErr and notifyErr inject synchronous failures.
type fakePeripheral struct {
	servedTables [][]*MirroredAttribute
	clears       int

	advertised   []AdvertisementIdentity
	advStops     int
	advertiseErr error

	notifies  []peripheralNotify
	notifyErr error

	writesDone []finishedWrite
	readsDone  []finishedRead
}

func (p *fakePeripheral) ServeTable(attrs []*MirroredAttribute) error {
	p.servedTables = append(p.servedTables, attrs)
	return nil
}

func (p *fakePeripheral) ClearTable() {
	p.clears++
}

func (p *fakePeripheral) StartAdvertising(identity AdvertisementIdentity) error {
	if p.advertiseErr != nil {
		return p.advertiseErr
	}
	p.advertised = append(p.advertised, identity)
	return nil
}

func (p *fakePeripheral) StopAdvertising() {
	p.advStops++
}

func (p *fakePeripheral) Notify(localHandle uint16, payload []byte, indication bool) error {
	if p.notifyErr != nil {
		return p.notifyErr
	}
	p.notifies = append(p.notifies, peripheralNotify{
		localHandle: localHandle,
		payload:     append([]byte(nil), payload...),
		indication:  indication,
	})
	return nil
}

func (p *fakePeripheral) FinishWrite(requestID uint64, err error) {
	p.writesDone = append(p.writesDone, finishedWrite{requestID: requestID, err: err})
}

func (p *fakePeripheral) FinishRead(requestID uint64, value []byte, err error) {
	p.readsDone = append(p.readsDone, finishedRead{requestID: requestID, value: value, err: err})
}

const (
	testTargetAddr  = "fe:98:00:30:39:45"
	testLocalName   = "TIAGO-U105"
	testServiceUUID = "0000180900001000800000805f9b34fb"

	testSvcUUID         = "1809"
	testMeasChar        = "2a1c" // read + indicate
	testCtrlChar        = "fff1" // write + write-nr + notify
	testMeasHandle      = uint16(0x0025)
	testCtrlHandle      = uint16(0x0028)
	testMobileRequestID = uint64(700)
)

func testIdentity() AdvertisementIdentity {
	return AdvertisementIdentity{
		LocalName:       testLocalName,
		ServiceUUID:     testServiceUUID,
		ServiceDataUUID: 0xc1c5,
		ServiceData:     make([]byte, 20),
	}
}

func testTarget() TargetDescriptor {
	return TargetDescriptor{Address: testTargetAddr, AddrType: AddrPublic}
}

// newTestSession builds a session over fake ports with a retry backoff too
// large to ever fire during a test run; retries are driven manually through
// handleRetryTimer.
func newTestSession(t *testing.T, mutate ...func(*SessionOptions)) (*Session, *fakeCentral, *fakePeripheral) {
	t.Helper()

	central := &fakeCentral{}
	peripheral := &fakePeripheral{}

	opts := DefaultSessionOptions()
	opts.Target = testTarget()
	opts.Identity = testIdentity()
	opts.Retry.BackoffBase = time.Hour
	opts.Retry.BackoffCap = time.Hour
	for _, m := range mutate {
		m(&opts)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return NewSession(central, peripheral, opts, logger), central, peripheral
}

// drive feeds events through the dispatcher's routing synchronously, exactly
// as the Run loop would one at a time.
func drive(s *Session, evs ...Event) {
	for _, ev := range evs {
		s.dispatcher.dispatch(ev)
	}
}

// driveReady takes the target link from connecting to ready with a thermometer
// profile: one service carrying a measurement and a control characteristic.
func driveReady(s *Session) {
	drive(s,
		TargetConnected{Handle: 0x0040, MTU: 185},
		TargetServiceFound{Service: DiscoveredService{UUID: testSvcUUID}},
		TargetServiceDiscoveryDone{},
		TargetCharacteristicFound{ServiceUUID: testSvcUUID, Char: DiscoveredCharacteristic{
			UUID: testMeasChar, Handle: testMeasHandle, Props: PropRead | PropIndicate,
		}},
		TargetCharacteristicFound{ServiceUUID: testSvcUUID, Char: DiscoveredCharacteristic{
			UUID: testCtrlChar, Handle: testCtrlHandle, Props: PropWrite | PropWriteNR | PropNotify,
		}},
		TargetCharDiscoveryDone{ServiceUUID: testSvcUUID},
	)
}
