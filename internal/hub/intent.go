package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/routing"
)

// DefaultTestBPM is sent by test_heavym_bpm when no bpm is given.
const DefaultTestBPM = 120.0

// intentFunc applies one inbound intent. A non-nil reply goes to the
// originating session only.
type intentFunc func(h *Hub, ctx context.Context, f fields) (reply []byte, err error)

// intents maps message types to handlers. Broadcasts are not produced
// here: every accepted change comes back from the engine as an event.
var intents = map[string]intentFunc{
	"tap": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.Tap(ctx)
		return nil, err
	},
	"set_bpm": setBPM,
	"preset":  setBPM,
	"nudge": func(h *Hub, ctx context.Context, f fields) ([]byte, error) {
		delta, err := f.floatOr("delta", 0)
		if err != nil {
			return nil, err
		}
		_, err = h.eng.Nudge(ctx, delta)
		return nil, err
	},
	"halve": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.Halve(ctx)
		return nil, err
	},
	"double": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.Double(ctx)
		return nil, err
	},
	"start": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.SetRunning(ctx, true)
		return nil, err
	},
	"stop": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.SetRunning(ctx, false)
		return nil, err
	},
	"resync": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.Resync(ctx)
		return nil, err
	},
	"sync_bpm": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.SyncOutput(ctx, routing.TargetConsole)
		return nil, err
	},
	"toggle_metronome": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.ToggleMetronome(ctx)
		return nil, err
	},
	"set_metronome": func(h *Hub, ctx context.Context, f fields) ([]byte, error) {
		enabled, err := f.bool("enabled")
		if err != nil {
			return nil, err
		}
		_, err = h.eng.SetMetronome(ctx, enabled)
		return nil, err
	},
	"toggle_bpm_rounding": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.ToggleRoundWholeBPM(ctx)
		return nil, err
	},
	"set_round_whole_bpm": func(h *Hub, ctx context.Context, f fields) ([]byte, error) {
		enabled, err := f.bool("enabled")
		if err != nil {
			return nil, err
		}
		_, err = h.eng.SetRoundWholeBPM(ctx, enabled)
		return nil, err
	},
	"set_output_enabled": setOutputEnabled,
	"set_output_target":  setOutputTarget,
	"set_ma3_osc":        setConsole,
	"set_heavym_osc":     setMapping,
	"test_heavym_bpm": func(h *Hub, ctx context.Context, f fields) ([]byte, error) {
		bpm, err := f.floatOr("bpm", DefaultTestBPM)
		if err != nil {
			return nil, err
		}
		_, err = h.eng.TestBPM(ctx, routing.TargetMapping, bpm)
		return nil, err
	},
	"test_heavym_sync": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		_, err := h.eng.TestResync(ctx, routing.TargetMapping)
		return nil, err
	},
	"get_settings": func(h *Hub, ctx context.Context, _ fields) ([]byte, error) {
		st, tbl, _, err := h.eng.Current(ctx)
		if err != nil {
			return nil, err
		}
		return encode(NewSettingsPayload(st, tbl)), nil
	},
}

func setBPM(h *Hub, ctx context.Context, f fields) ([]byte, error) {
	bpm, err := f.float("bpm")
	if err != nil {
		return nil, err
	}
	_, err = h.eng.SetBPM(ctx, bpm)
	return nil, err
}

func target(f fields) (routing.Target, error) {
	name, err := f.string("target")
	if err != nil {
		return "", err
	}
	return routing.ParseTarget(name)
}

func setOutputEnabled(h *Hub, ctx context.Context, f fields) ([]byte, error) {
	t, err := target(f)
	if err != nil {
		return nil, err
	}
	enabled, err := f.bool("enabled")
	if err != nil {
		return nil, err
	}
	_, err = h.eng.UpdateRouting(ctx, func(tbl *routing.Table) error {
		return tbl.SetEnabled(t, enabled)
	})
	return nil, err
}

func setOutputTarget(h *Hub, ctx context.Context, f fields) ([]byte, error) {
	t, err := target(f)
	if err != nil {
		return nil, err
	}
	ip, err := f.string("ip")
	if err != nil {
		return nil, err
	}
	port, err := f.port("port")
	if err != nil {
		return nil, err
	}
	_, err = h.eng.UpdateRouting(ctx, func(tbl *routing.Table) error {
		return tbl.SetAddress(t, ip, port)
	})
	return nil, err
}

func setConsole(h *Hub, ctx context.Context, f fields) ([]byte, error) {
	var primary *string
	if f.has("primary_master") {
		s, ok := text(f["primary_master"])
		if !ok {
			return nil, payloadErr("primary_master must be a string")
		}
		primary = &s
	}

	var extras []routing.ConsoleExtra
	if f.has("extras") {
		var items []fields
		if err := json.Unmarshal(f["extras"], &items); err != nil {
			return nil, payloadErr("extras must be a list of objects")
		}
		extras = make([]routing.ConsoleExtra, 0, len(items))
		for _, item := range items {
			master, ok := text(item["master"])
			if !ok {
				return nil, payloadErr("extras entry needs a master")
			}
			mult, err := item.float("multiplier")
			if err != nil {
				return nil, err
			}
			extras = append(extras, routing.ConsoleExtra{Master: master, Multiplier: mult})
		}
	}

	_, err := h.eng.UpdateRouting(ctx, func(tbl *routing.Table) error {
		return tbl.SetConsole(primary, extras)
	})
	return nil, err
}

func setMapping(h *Hub, ctx context.Context, f fields) ([]byte, error) {
	var (
		u   routing.MappingUpdate
		err error
	)
	if u.BPMAddress, err = f.optString("bpm_address"); err != nil {
		return nil, err
	}
	if u.ResyncAddress, err = f.optString("resync_address"); err != nil {
		return nil, err
	}
	if u.BPMMin, err = f.optFloat("bpm_min"); err != nil {
		return nil, err
	}
	if u.BPMMax, err = f.optFloat("bpm_max"); err != nil {
		return nil, err
	}
	if u.ResyncValue, err = f.optFloat("resync_value"); err != nil {
		return nil, err
	}
	if u.ResyncSendZero, err = f.optBool("resync_send_zero"); err != nil {
		return nil, err
	}
	_, err = h.eng.UpdateRouting(ctx, func(tbl *routing.Table) error {
		return tbl.SetMapping(u)
	})
	return nil, err
}

// handle applies one inbound message and returns the reply for the
// originating session, if any.
func (h *Hub) handle(ctx context.Context, data []byte) []byte {
	typ, f, problem := parseMessage(data)
	if problem != "" {
		h.logger.Debug("malformed message", "error", problem)
		return encodeError(problem, "")
	}
	fn, ok := intents[typ]
	if !ok {
		h.logger.Debug("unknown message type", "type", typ)
		return encodeError(MsgUnknownType, "")
	}

	reply, err := fn(h, ctx, f)
	if err == nil {
		return reply
	}
	if errors.Is(err, engine.ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.logger.Warn("intent not applied", "type", typ, "error", err)
		return encodeError(MsgUnavailable, "")
	}
	h.logger.Debug("invalid payload", "type", typ, "error", err)
	return encodeError(MsgInvalidPayload, err.Error())
}
