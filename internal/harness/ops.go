package harness

import (
	"context"
	"fmt"

	"github.com/roach88/tapsync/internal/routing"
)

type op func(ctx context.Context, h *Harness, a args) error

// ops are the operations a step can run. Each maps to one engine command.
var ops = map[string]op{
	"tick": func(ctx context.Context, h *Harness, _ args) error {
		h.ticks <- h.clock.Now()
		_, err := h.eng.Snapshot(ctx)
		return err
	},
	"tap": func(ctx context.Context, h *Harness, _ args) error {
		_, err := h.eng.Tap(ctx)
		return err
	},
	"set_bpm": func(ctx context.Context, h *Harness, a args) error {
		bpm, err := a.float("bpm")
		if err != nil {
			return err
		}
		_, err = h.eng.SetBPM(ctx, bpm)
		return err
	},
	"nudge": func(ctx context.Context, h *Harness, a args) error {
		delta, err := a.float("delta")
		if err != nil {
			return err
		}
		_, err = h.eng.Nudge(ctx, delta)
		return err
	},
	"halve": func(ctx context.Context, h *Harness, _ args) error {
		_, err := h.eng.Halve(ctx)
		return err
	},
	"double": func(ctx context.Context, h *Harness, _ args) error {
		_, err := h.eng.Double(ctx)
		return err
	},
	"start": func(ctx context.Context, h *Harness, _ args) error {
		_, err := h.eng.SetRunning(ctx, true)
		return err
	},
	"stop": func(ctx context.Context, h *Harness, _ args) error {
		_, err := h.eng.SetRunning(ctx, false)
		return err
	},
	"resync": func(ctx context.Context, h *Harness, _ args) error {
		_, err := h.eng.Resync(ctx)
		return err
	},
	"toggle_metronome": func(ctx context.Context, h *Harness, _ args) error {
		_, err := h.eng.ToggleMetronome(ctx)
		return err
	},
	"set_metronome": func(ctx context.Context, h *Harness, a args) error {
		on, err := a.bool("enabled")
		if err != nil {
			return err
		}
		_, err = h.eng.SetMetronome(ctx, on)
		return err
	},
	"toggle_bpm_rounding": func(ctx context.Context, h *Harness, _ args) error {
		_, err := h.eng.ToggleRoundWholeBPM(ctx)
		return err
	},
	"set_round_whole_bpm": func(ctx context.Context, h *Harness, a args) error {
		on, err := a.bool("enabled")
		if err != nil {
			return err
		}
		_, err = h.eng.SetRoundWholeBPM(ctx, on)
		return err
	},
	"sync_output": func(ctx context.Context, h *Harness, a args) error {
		target, err := a.target("output")
		if err != nil {
			return err
		}
		_, err = h.eng.SyncOutput(ctx, target)
		return err
	},
	"test_bpm": func(ctx context.Context, h *Harness, a args) error {
		target, err := a.target("output")
		if err != nil {
			return err
		}
		bpm, err := a.float("bpm")
		if err != nil {
			return err
		}
		_, err = h.eng.TestBPM(ctx, target, bpm)
		return err
	},
	"test_resync": func(ctx context.Context, h *Harness, a args) error {
		target, err := a.target("output")
		if err != nil {
			return err
		}
		_, err = h.eng.TestResync(ctx, target)
		return err
	},
	"set_output_enabled": func(ctx context.Context, h *Harness, a args) error {
		target, err := a.target("output")
		if err != nil {
			return err
		}
		on, err := a.bool("enabled")
		if err != nil {
			return err
		}
		_, err = h.eng.UpdateRouting(ctx, func(t *routing.Table) error {
			return t.SetEnabled(target, on)
		})
		return err
	},
	"set_output_target": func(ctx context.Context, h *Harness, a args) error {
		target, err := a.target("output")
		if err != nil {
			return err
		}
		ip, err := a.string("ip")
		if err != nil {
			return err
		}
		port, err := a.float("port")
		if err != nil {
			return err
		}
		_, err = h.eng.UpdateRouting(ctx, func(t *routing.Table) error {
			return t.SetAddress(target, ip, int(port))
		})
		return err
	},
}

// args are step arguments as decoded from YAML.
type args map[string]any

func (a args) float(name string) (float64, error) {
	switch v := a[name].(type) {
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	case nil:
		return 0, fmt.Errorf("missing arg %q", name)
	default:
		return 0, fmt.Errorf("arg %q: want number, got %T", name, v)
	}
}

func (a args) bool(name string) (bool, error) {
	switch v := a[name].(type) {
	case bool:
		return v, nil
	case nil:
		return false, fmt.Errorf("missing arg %q", name)
	default:
		return false, fmt.Errorf("arg %q: want bool, got %T", name, v)
	}
}

func (a args) string(name string) (string, error) {
	switch v := a[name].(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("missing arg %q", name)
	default:
		return "", fmt.Errorf("arg %q: want string, got %T", name, v)
	}
}

func (a args) target(name string) (routing.Target, error) {
	s, err := a.string(name)
	if err != nil {
		return "", err
	}
	return routing.ParseTarget(s)
}
