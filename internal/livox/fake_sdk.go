package livox

import "sync"

// ControlCall records one control request made against a FakeSDK.
type ControlCall struct {
	Handle   uint32
	WorkMode WorkMode
	DataType DataType
	Callback ControlCallback
}

// FakeSDK is an in-memory SDK for tests. It records every call and lets the
// test push callbacks as if they came from the driver.
type FakeSDK struct {
	mu sync.Mutex

	InitErr        error
	WorkModeStatus Status
	DataTypeStatus Status

	InitCalls     []string
	UninitCalls   int
	WorkModeCalls []ControlCall
	DataTypeCalls []ControlCall

	handlers Handlers
}

// NewFakeSDK returns a FakeSDK whose control requests succeed.
func NewFakeSDK() *FakeSDK {
	return &FakeSDK{}
}

func (f *FakeSDK) Init(configPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InitCalls = append(f.InitCalls, configPath)
	return f.InitErr
}

func (f *FakeSDK) Uninit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UninitCalls++
}

func (f *FakeSDK) Register(h Handlers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
}

func (f *FakeSDK) SetWorkMode(handle uint32, mode WorkMode, cb ControlCallback) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WorkModeCalls = append(f.WorkModeCalls, ControlCall{Handle: handle, WorkMode: mode, Callback: cb})
	return f.WorkModeStatus
}

func (f *FakeSDK) SetPointDataType(handle uint32, t DataType, cb ControlCallback) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DataTypeCalls = append(f.DataTypeCalls, ControlCall{Handle: handle, DataType: t, Callback: cb})
	return f.DataTypeStatus
}

// Handlers returns the currently registered hooks.
func (f *FakeSDK) Handlers() Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

// FirePointCloud delivers pkt to the registered point cloud hook, if any.
func (f *FakeSDK) FirePointCloud(handle uint32, pkt *EthernetPacket) {
	if h := f.Handlers().PointCloud; h != nil {
		h(handle, 0, pkt)
	}
}

// FireInfo delivers an informational message to the registered hook, if any.
func (f *FakeSDK) FireInfo(handle uint32, info string) {
	if h := f.Handlers().Info; h != nil {
		h(handle, 0, info)
	}
}

// FireInfoChange delivers a connection change to the registered hook, if any.
func (f *FakeSDK) FireInfoChange(handle uint32, info DeviceInfo) {
	if h := f.Handlers().InfoChange; h != nil {
		h(handle, info)
	}
}

// LastWorkModeCall returns the most recent work mode request.
func (f *FakeSDK) LastWorkModeCall() (ControlCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.WorkModeCalls) == 0 {
		return ControlCall{}, false
	}
	return f.WorkModeCalls[len(f.WorkModeCalls)-1], true
}

// LastDataTypeCall returns the most recent data type request.
func (f *FakeSDK) LastDataTypeCall() (ControlCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.DataTypeCalls) == 0 {
		return ControlCall{}, false
	}
	return f.DataTypeCalls[len(f.DataTypeCalls)-1], true
}

// Counts returns the number of init, uninit, work mode and data type calls.
func (f *FakeSDK) Counts() (inits, uninits, workModes, dataTypes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.InitCalls), f.UninitCalls, len(f.WorkModeCalls), len(f.DataTypeCalls)
}
