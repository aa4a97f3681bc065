package uci

import (
	"strconv"
	"strings"
)

type Kind int

const (
	// KindUnknown covers lines outside the grammar; callers ignore them.
	KindUnknown Kind = iota
	KindUCIOK
	KindReadyOK
	KindInfo
	KindBestMove
)

func (k Kind) String() string {
	switch k {
	case KindUCIOK:
		return "uciok"
	case KindReadyOK:
		return "readyok"
	case KindInfo:
		return "info"
	case KindBestMove:
		return "bestmove"
	default:
		return "unknown"
	}
}

type ScoreKind string

const (
	ScoreCP   ScoreKind = "cp"
	ScoreMate ScoreKind = "mate"
)

// Message is one parsed engine output line.
type Message struct {
	Kind     Kind
	Raw      string
	Depth    int
	MultiPV  int
	Score    ScoreKind
	Value    int
	PV       []string
	BestMove string
}

// Move returns the first move of the principal variation.
func (m Message) Move() string {
	if len(m.PV) == 0 {
		return ""
	}
	return m.PV[0]
}

// Parse never fails: anything that does not match the grammar comes back as KindUnknown.
func Parse(line string) Message {
	line = strings.TrimSpace(line)
	msg := Message{Raw: line}
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return msg
	}
	switch parts[0] {
	case "uciok":
		msg.Kind = KindUCIOK
	case "readyok":
		msg.Kind = KindReadyOK
	case "bestmove":
		msg.Kind = KindBestMove
		if len(parts) >= 2 && parts[1] != "(none)" {
			msg.BestMove = parts[1]
		}
	case "info":
		if info, ok := parseInfo(parts); ok {
			info.Raw = line
			return info
		}
	}
	return msg
}

// parseInfo accepts only lines carrying both a score and a pv.
func parseInfo(parts []string) (Message, bool) {
	msg := Message{Kind: KindInfo, MultiPV: 1}
	scoreSet := false
	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					msg.Depth = v
				}
				i++
			}
		case "multipv":
			if i+1 >= len(parts) {
				return Message{}, false
			}
			v, err := strconv.Atoi(parts[i+1])
			if err != nil || v <= 0 {
				return Message{}, false
			}
			msg.MultiPV = v
			i++
		case "score":
			if i+2 >= len(parts) {
				return Message{}, false
			}
			v, err := strconv.Atoi(parts[i+2])
			if err != nil {
				return Message{}, false
			}
			switch ScoreKind(parts[i+1]) {
			case ScoreCP, ScoreMate:
				msg.Score = ScoreKind(parts[i+1])
			default:
				return Message{}, false
			}
			msg.Value = v
			scoreSet = true
			i += 2
		case "pv":
			msg.PV = append([]string(nil), parts[i+1:]...)
			i = len(parts)
		}
	}
	if !scoreSet || len(msg.PV) == 0 {
		return Message{}, false
	}
	return msg, true
}
