// Package logging provides the slog handler shared by the command line tools.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Options configure New.
type Options struct {
	// Level is the minimum level written. Defaults to Info.
	Level slog.Leveler
	// Pretty indents each object across several lines.
	Pretty bool
	// AddSource adds a compact file:line of the call site.
	AddSource bool
}

// New returns a logger writing one JSON object per record to w.
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(NewHandler(w, opts))
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// Handler is a slog.Handler producing JSON lines. Attributes keep their
// insertion order within an object, so "time", "level" and "msg" lead.
type Handler struct {
	w         io.Writer
	mu        *sync.Mutex
	level     slog.Leveler
	pretty    bool
	addSource bool

	attrs  []scopedAttr
	groups []string
}

func NewHandler(w io.Writer, opts Options) *Handler {
	var level slog.Leveler = slog.LevelInfo
	if opts.Level != nil {
		level = opts.Level
	}
	return &Handler{
		w:         w,
		mu:        &sync.Mutex{},
		level:     level,
		pretty:    opts.Pretty,
		addSource: opts.AddSource,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	root := &object{}

	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}
	root.set("time", when.Format(time.RFC3339Nano))
	root.set("level", r.Level.String())
	root.set("msg", r.Message)
	if h.addSource {
		if src := sourceFromPC(r.PC); src != "" {
			root.set("source", src)
		}
	}

	for _, sa := range h.attrs {
		addAttr(root.path(sa.groups), sa.attr)
	}
	if r.NumAttrs() > 0 {
		dst := root.path(h.groups)
		r.Attrs(func(a slog.Attr) bool {
			addAttr(dst, a)
			return true
		})
	}

	var (
		b   []byte
		err error
	)
	if h.pretty {
		b, err = json.MarshalIndent(root, "", "  ")
	} else {
		b, err = json.Marshal(root)
	}
	if err != nil {
		// Fall back to the fixed fields rather than dropping the record.
		b = []byte(`{"time":` + strconv.Quote(when.Format(time.RFC3339Nano)) +
			`,"level":` + strconv.Quote(r.Level.String()) +
			`,"msg":` + strconv.Quote(r.Message) +
			`,"log_error":` + strconv.Quote(err.Error()) + `}`)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(b, '\n'))
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = append([]scopedAttr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, scopedAttr{groups: h.groups, attr: a})
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// scopedAttr is an attribute added through WithAttrs together with the groups
// open at the time.
type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

func addAttr(dst *object, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		attrs := v.Group()
		if len(attrs) == 0 {
			return
		}
		// Inline groups with an empty key.
		target := dst
		if a.Key != "" {
			target = dst.child(a.Key)
		}
		for _, ga := range attrs {
			addAttr(target, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst.set(a.Key, valueToAny(v))
}

func valueToAny(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		f := v.Float64()
		// JSON has no encoding for infinities or NaN.
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return f
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		}
		return v.Any()
	default:
		return v.String()
	}
}

func sourceFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	if f.File == "" {
		return ""
	}
	file := f.File
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}
	return file + ":" + strconv.Itoa(f.Line)
}

// object is a JSON object that remembers key order.
type object struct {
	keys []string
	vals map[string]any
}

func (o *object) set(k string, v any) {
	if o.vals == nil {
		o.vals = make(map[string]any)
	}
	if _, ok := o.vals[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.vals[k] = v
}

func (o *object) child(k string) *object {
	if c, ok := o.vals[k].(*object); ok {
		return c
	}
	c := &object{}
	o.set(k, c)
	return c
}

func (o *object) path(groups []string) *object {
	dst := o
	for _, g := range groups {
		dst = dst.child(g)
	}
	return dst
}

func (o *object) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		sb.Write(kb)
		sb.WriteByte(':')
		vb, err := json.Marshal(o.vals[k])
		if err != nil {
			return nil, err
		}
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}
