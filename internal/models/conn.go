package models

// ConnState — состояние связи со шлюзом. int32 ради atomic в супервизоре.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnDegraded
	ConnConnected
)

func (s ConnState) String() string {
	switch s {
	case ConnConnected:
		return "CONNECTED"
	case ConnDegraded:
		return "DEGRADED"
	default:
		return "DISCONNECTED"
	}
}
