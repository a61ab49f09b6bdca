package driver

// MainState is the state of the driver. The order matters, message
// handling is only allowed from [StateSetup] onwards.
type MainState uint8

const (
	StateInit                 MainState = 0
	StateShutdown             MainState = 1
	StateError                MainState = 2
	StateWaitCommunicationRdy MainState = 3
	StateSetup                MainState = 4
	StateRunning              MainState = 5
)

var stateMap = map[MainState]string{
	StateInit:                 "INIT",
	StateShutdown:             "SHUTDOWN",
	StateError:                "ERROR",
	StateWaitCommunicationRdy: "WAIT_COMMUNICATION_RDY",
	StateSetup:                "SETUP",
	StateRunning:              "RUNNING",
}

func (s MainState) String() string {
	name, ok := stateMap[s]
	if ok {
		return name
	}
	return "UNKNOWN"
}

// CommunicationState is returned by [Driver.IsReadyForCommunication]
type CommunicationState uint8

const (
	NotReadyForCommunication CommunicationState = 0
	ReadyForCommunication    CommunicationState = 1
	// The module did not signal it was ready in time
	StartupTimeout CommunicationState = 2
	// The module did not signal it was ready in time, it might be
	// updating its firmware. See [Driver.WaitForFwUpdate].
	AssumeFwUpdate CommunicationState = 3
)

var communicationStateMap = map[CommunicationState]string{
	NotReadyForCommunication: "NOT_READY",
	ReadyForCommunication:    "READY",
	StartupTimeout:           "STARTUP_TIMEOUT",
	AssumeFwUpdate:           "ASSUME_FW_UPDATE",
}

func (s CommunicationState) String() string {
	name, ok := communicationStateMap[s]
	if ok {
		return name
	}
	return "UNKNOWN"
}

// Events passed to [Callbacks.Event] for interrupts that are not
// handled inside [Driver.ISR]
const (
	EventRdPd   uint16 = 0x01
	EventRdMsg  uint16 = 0x02
	EventWrMsg  uint16 = 0x04
	EventStatus uint16 = 0x08
)
