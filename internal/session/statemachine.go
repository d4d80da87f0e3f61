package session

import (
	"context"

	"attendance-relay/internal/common/constants"

	"github.com/looplab/fsm"
)

// transitionFunc observes a completed state change. cause is the error
// passed with a fail event, nil otherwise.
type transitionFunc func(event, from, to string, cause error)

// newStateMachine builds the connection lifecycle:
//
//	Disconnected -dial-> Connecting -established-> Connected
//	Connecting|Connected -fail-> Connection Failed -reset-> Disconnected
//	Connected -close-> Disconnected
func newStateMachine(onTransition transitionFunc) *fsm.FSM {
	return fsm.NewFSM(
		constants.DeviceStatusDisconnected,
		fsm.Events{
			{Name: constants.SessionEventDial, Src: []string{constants.DeviceStatusDisconnected}, Dst: constants.DeviceStatusConnecting},
			{Name: constants.SessionEventEstablished, Src: []string{constants.DeviceStatusConnecting}, Dst: constants.DeviceStatusConnected},
			{Name: constants.SessionEventFail, Src: []string{constants.DeviceStatusConnecting, constants.DeviceStatusConnected}, Dst: constants.DeviceStatusConnectionFailed},
			{Name: constants.SessionEventReset, Src: []string{constants.DeviceStatusConnectionFailed}, Dst: constants.DeviceStatusDisconnected},
			{Name: constants.SessionEventClose, Src: []string{constants.DeviceStatusConnected}, Dst: constants.DeviceStatusDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				var cause error
				if len(e.Args) > 0 {
					cause, _ = e.Args[0].(error)
				}
				onTransition(e.Event, e.Src, e.Dst, cause)
			},
		},
	)
}
