package logger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
	// sampler thins debug lines per event; nil keeps them all.
	sampler *eventSampler
}

// structuredHandler renders every record as one line of kv pairs or JSON
// with a stable key order, then hands it to the async writer.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return fmt.Errorf("logger: writer not initialized")
	}

	fields := h.collect(ctx, r)
	if h.sampledOut(r.Level, fields) {
		return nil
	}
	normalizeFields(fields)

	var (
		line []byte
		err  error
	)
	if h.cfg.format == formatJSON {
		line, err = encodeJSON(fields, h.cfg.keyOrder)
	} else {
		line = encodeKV(fields, h.cfg.keyOrder)
	}
	if err != nil {
		return err
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// collect gathers handler attrs, record attrs and the correlation ids carried
// by ctx. Explicit attrs win over context values.
func (h *structuredHandler) collect(ctx context.Context, r slog.Record) map[string]any {
	ts := r.Time.UTC()
	fields := map[string]any{
		"ts":    ts.Truncate(time.Millisecond).Format(timeFormatMillis),
		"level": r.Level.String(),
	}
	if h.cfg.format == formatJSON {
		fields["ts_unix_nano"] = ts.UnixNano()
	}

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		putAttr(fields, prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		putAttr(fields, prefix, a)
		return true
	})

	if ctx != nil {
		for key, value := range map[string]string{
			"rid":            RIDFrom(ctx),
			"event_id":       EventIDFrom(ctx),
			"user_id":        UserIDFrom(ctx),
			"transaction_id": TransactionIDFrom(ctx),
			"handler":        HandlerFrom(ctx),
		} {
			if _, set := fields[key]; !set && value != "" {
				fields[key] = value
			}
		}
	}

	if ev, _ := stringField(fields, "event"); ev == "" {
		fields["event"] = r.Message
		if r.Message == "" {
			fields["event"] = "unknown"
		}
	}
	if c, _ := stringField(fields, "component"); c == "" {
		fields["component"] = "app"
	}
	return fields
}

func (h *structuredHandler) sampledOut(level slog.Level, fields map[string]any) bool {
	if level >= slog.LevelInfo || h.cfg.sampler == nil || traceOverride {
		return false
	}
	event, _ := stringField(fields, "event")
	return !h.cfg.sampler.Allow(event)
}

// putAttr flattens groups into dotted keys and stores the normalized value.
func putAttr(fields map[string]any, prefix string, a slog.Attr) {
	key := a.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			putAttr(fields, key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if d, ok := durationOf(a.Value); ok {
		fields[durationKey(key)] = RoundMS(d).Milliseconds()
		return
	}
	if v, ok := plainValue(a.Value); ok {
		fields[key] = v
	}
}

func durationOf(v slog.Value) (time.Duration, bool) {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration(), true
	case slog.KindAny:
		d, ok := v.Any().(time.Duration)
		return d, ok
	default:
		return 0, false
	}
}

func plainValue(v slog.Value) (any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return v.Bool(), true
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return int64(u), true
		}
		return v.Uint64(), true
	case slog.KindFloat64:
		return v.Float64(), true
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano), true
	}

	switch x := v.Any().(type) {
	case nil:
		return nil, false
	case error:
		return x.Error(), true
	case string:
		return strings.TrimSpace(x), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return fmt.Sprint(x), true
	}
}

// durationKey renames duration attributes so the unit is part of the key.
func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_duration"):
		return strings.TrimSuffix(key, "_duration") + "_duration_ms"
	case !strings.HasSuffix(key, "_ms"):
		return key + "_ms"
	}
	return key
}

// normalizeFields maps level, status and outcome onto their enumerations and
// drops empty values. An unknown outcome is dropped; an unknown status is kept.
func normalizeFields(fields map[string]any) {
	if level, ok := stringField(fields, "level"); ok {
		fields["level"] = normalizeLevel(level)
	}
	if s, _ := stringField(fields, "status"); s != "" {
		if mapped, ok := normalizeStatus(s); ok {
			fields["status"] = mapped
		}
	}
	if o, _ := stringField(fields, "outcome"); o != "" {
		if mapped, ok := normalizeOutcome(o); ok {
			fields["outcome"] = mapped
		} else {
			delete(fields, "outcome")
		}
	}

	for k, v := range fields {
		switch val := v.(type) {
		case nil:
			delete(fields, k)
		case string:
			if val == "" {
				delete(fields, k)
			}
		case fmt.Stringer:
			if val.String() == "" {
				delete(fields, k)
			}
		}
	}
}

func stringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}
