package phase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/docstore"
	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/txn"
	"go.uber.org/zap"
)

// State document keys owned by the phase controller.
const (
	KeyCurrentPhase = "workflow.current_phase"
	KeyMethodology  = "workflow.methodology"
	KeyLastUpdated  = "workflow.last_updated"
)

// errUnchanged aborts Store.Apply without writing.
var errUnchanged = errors.New("phase unchanged")

// Locker serializes mutations across processes.
type Locker func(ctx context.Context) (release func(), err error)

// Controller persists machine transitions to the state document and records
// them in the decision log.
type Controller struct {
	store       *docstore.Store
	decisionLog string
	lock        Locker
	logger      *logging.Logger
	now         func() time.Time
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithDecisionLog sets the log that transition reasons are appended to.
func WithDecisionLog(path string) ControllerOption {
	return func(c *Controller) { c.decisionLog = path }
}

// WithLocker wraps every mutation in the given lock.
func WithLocker(l Locker) ControllerOption {
	return func(c *Controller) { c.lock = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller over store.
func NewController(store *docstore.Store, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:  store,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) acquire(ctx context.Context) (func(), error) {
	if c.lock == nil {
		return func() {}, nil
	}
	return c.lock(ctx)
}

// Current returns the persisted phase of m, or None.
func (c *Controller) Current(m *Machine) (string, error) {
	v, ok, err := c.store.Get(m.Field())
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return None, nil
	}
	return v, nil
}

// Methodology returns the active methodology recorded in the document.
func (c *Controller) Methodology() (*Machine, error) {
	v, ok, err := c.store.Get(KeyMethodology)
	if err != nil {
		return nil, err
	}
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: no methodology recorded", ErrUnknownMethodology)
	}
	return ForMethodology(v)
}

// Apply runs action on m and persists the result atomically. A cycle-complete
// result leaves the document untouched. Start also records m as the active
// methodology.
func (c *Controller) Apply(ctx context.Context, m *Machine, action Action, reason string) (Result, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	var res Result
	_, err = c.store.Apply(func(doc docstore.Document) error {
		current, _ := doc.Get(m.Field())
		r, err := m.Transition(current, action)
		if err != nil {
			return err
		}
		res = r
		if !r.Changed() && action != ActionStart {
			return errUnchanged
		}
		if err := doc.Set(m.Field(), r.To); err != nil {
			return err
		}
		if action == ActionStart {
			if err := doc.Set(KeyMethodology, m.Name()); err != nil {
				return err
			}
		}
		return doc.Set(KeyLastUpdated, c.now().UTC().Format(time.RFC3339))
	})
	if errors.Is(err, errUnchanged) {
		c.logger.Info(ctx, "phase unchanged",
			zap.String("methodology", m.Name()),
			zap.String("phase", res.From),
			zap.Bool("cycle_complete", res.CycleComplete))
		return res, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to apply %s %s: %w", m.Name(), action, err)
	}

	c.logger.Info(ctx, "phase transition",
		zap.String("methodology", m.Name()),
		zap.String("action", string(action)),
		zap.String("from", res.From),
		zap.String("to", res.To))

	c.recordDecision(ctx, res, reason)
	return res, nil
}

// Complete marks the current macro phase 100% done and advances to the next.
// The final macro phase stays in place.
func (c *Controller) Complete(ctx context.Context) (from, to Macro, err error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	_, err = c.store.Apply(func(doc docstore.Document) error {
		raw, _ := doc.Get(KeyCurrentPhase)
		cur, err := ParseMacro(raw)
		if err != nil {
			return err
		}
		from, to = cur, cur
		if err := doc.Set(cur.ProgressKey(), "100"); err != nil {
			return err
		}
		if next, ok := cur.Next(); ok {
			to = next
			if err := doc.Set(KeyCurrentPhase, strconv.Itoa(int(next))); err != nil {
				return err
			}
		}
		return doc.Set(KeyLastUpdated, c.now().UTC().Format(time.RFC3339))
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to complete macro phase: %w", err)
	}

	c.logger.Info(ctx, "macro phase completed", zap.String("from", from.Label()), zap.String("to", to.Label()))
	c.recordDecision(ctx, Result{
		Methodology: "macro",
		Action:      "complete",
		From:        from.Label(),
		To:          to.Label(),
	}, "")
	return from, to, nil
}

// recordDecision appends to the decision log. Failures are logged only; the
// state document is already committed.
func (c *Controller) recordDecision(ctx context.Context, r Result, reason string) {
	if c.decisionLog == "" {
		return
	}
	line := fmt.Sprintf("%s | %s %s | %s -> %s",
		c.now().UTC().Format(time.RFC3339), r.Methodology, r.Action, r.From, r.To)
	if reason != "" {
		line += " | " + sanitize(reason)
	}
	if err := txn.AppendLine(c.decisionLog, line); err != nil {
		c.logger.Warn(ctx, "failed to record phase decision", zap.Error(err))
	}
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}
