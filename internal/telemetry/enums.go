package telemetry

import "fmt"

// GameState is the referee-driven phase the robot believes it is in.
type GameState int

const (
	GameStateInitial GameState = iota
	GameStateReady
	GameStateSet
	GameStatePlaying
	GameStateFinished
)

func (g GameState) Valid() bool { return g >= GameStateInitial && g <= GameStateFinished }

func (g GameState) String() string {
	switch g {
	case GameStateInitial:
		return "INITIAL"
	case GameStateReady:
		return "READY"
	case GameStateSet:
		return "SET"
	case GameStatePlaying:
		return "PLAYING"
	case GameStateFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("GameState(%d)", int(g))
	}
}

// MotionType is the robot's currently executing motion.
type MotionType int

const (
	MotionStand MotionType = iota
	MotionWalk
	MotionKick
	MotionGetUp
	MotionSpecial
)

func (m MotionType) Valid() bool { return m >= MotionStand && m <= MotionSpecial }

func (m MotionType) String() string {
	switch m {
	case MotionStand:
		return "STAND"
	case MotionWalk:
		return "WALK"
	case MotionKick:
		return "KICK"
	case MotionGetUp:
		return "GET_UP"
	case MotionSpecial:
		return "SPECIAL"
	default:
		return fmt.Sprintf("MotionType(%d)", int(m))
	}
}

// LocalizationQuality rates the robot's self-localization confidence.
type LocalizationQuality int

const (
	QualityPoor LocalizationQuality = iota
	QualityOkay
	QualitySuperb
)

func (q LocalizationQuality) Valid() bool { return q >= QualityPoor && q <= QualitySuperb }

func (q LocalizationQuality) String() string {
	switch q {
	case QualityPoor:
		return "POOR"
	case QualityOkay:
		return "OKAY"
	case QualitySuperb:
		return "SUPERB"
	default:
		return fmt.Sprintf("LocalizationQuality(%d)", int(q))
	}
}

// EventType classifies a discrete occurrence the robot reported.
type EventType int

const (
	EventBehaviorChanged EventType = iota
	EventRoleChanged
	EventFallen
	EventGotUp
	EventBallLost
	EventBallFound
	EventPenalized
	EventUnpenalized
	EventCommunicationError
	EventLocalizationLost
	EventKickExecuted
)

func (e EventType) Valid() bool { return e >= EventBehaviorChanged && e <= EventKickExecuted }

func (e EventType) String() string {
	switch e {
	case EventBehaviorChanged:
		return "BEHAVIOR_CHANGED"
	case EventRoleChanged:
		return "ROLE_CHANGED"
	case EventFallen:
		return "FALLEN"
	case EventGotUp:
		return "GOT_UP"
	case EventBallLost:
		return "BALL_LOST"
	case EventBallFound:
		return "BALL_FOUND"
	case EventPenalized:
		return "PENALIZED"
	case EventUnpenalized:
		return "UNPENALIZED"
	case EventCommunicationError:
		return "COMMUNICATION_ERROR"
	case EventLocalizationLost:
		return "LOCALIZATION_LOST"
	case EventKickExecuted:
		return "KICK_EXECUTED"
	default:
		return fmt.Sprintf("EventType(%d)", int(e))
	}
}
