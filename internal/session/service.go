package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evmts/agentcore/internal/config"
	"github.com/evmts/agentcore/internal/event"
	"github.com/evmts/agentcore/internal/ghost"
	"github.com/evmts/agentcore/internal/gitexec"
	"github.com/evmts/agentcore/internal/logging"
	"github.com/evmts/agentcore/internal/permission"
	"github.com/evmts/agentcore/internal/project"
	"github.com/evmts/agentcore/internal/snapshot"
	"github.com/evmts/agentcore/pkg/types"
)

const (
	DefaultTitle   = "New Session"
	DefaultVersion = "1"
)

// Service manages the session lifecycle: the message log, snapshot
// history and ghost commits of every session it owns.
type Service struct {
	store     Store
	bus       event.Publisher
	snapshots snapshot.Factory
	checker   *permission.Checker
	features  *config.FeatureManager

	permBase    permission.Config
	permTimeout time.Duration
	ghostOpts   []gitexec.Option
	squash      bool

	mu       sync.Mutex
	runtimes map[string]*runtime
}

// runtime is the process-local state of one session.
type runtime struct {
	// serializes lifecycle operations on the session
	mu sync.Mutex

	snap      snapshot.Service
	snapTried bool
	ghost     *ghost.Manager

	// guarded by Service.mu
	cancel context.CancelFunc
	// closed when the running turn has finished its bookkeeping
	done chan struct{}
}

// deleteWait bounds how long Delete waits for an aborted turn to unwind.
const deleteWait = 10 * time.Second

// Option configures a Service.
type Option func(*Service)

// WithStore sets the session store. The default is a MemoryStore.
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// WithPublisher sets where lifecycle events are published.
func WithPublisher(p event.Publisher) Option {
	return func(s *Service) { s.bus = p }
}

// WithSnapshots enables per-turn snapshots using f.
func WithSnapshots(f snapshot.Factory) Option {
	return func(s *Service) { s.snapshots = f }
}

// WithChecker sets the permission checker used by RunTurn.
func WithChecker(c *permission.Checker) Option {
	return func(s *Service) { s.checker = c }
}

// WithPermissions sets the base permission config and approval window of
// the checker NewService builds when none is given.
func WithPermissions(cfg permission.Config, timeout time.Duration) Option {
	return func(s *Service) {
		s.permBase = cfg
		s.permTimeout = timeout
	}
}

// WithFeatures sets the feature flags.
func WithFeatures(f *config.FeatureManager) Option {
	return func(s *Service) { s.features = f }
}

// WithGhostOptions configures the git runner of ghost commit managers.
func WithGhostOptions(opts ...gitexec.Option) Option {
	return func(s *Service) { s.ghostOpts = opts }
}

// WithSquashOnCleanup squashes ghost commits when a session is archived.
func WithSquashOnCleanup(squash bool) Option {
	return func(s *Service) { s.squash = squash }
}

// FromConfig translates a loaded configuration into options.
func FromConfig(cfg *types.Config) []Option {
	features := config.NewFeatureManager()
	features.LoadFromConfig(cfg)

	var perm *types.PermissionConfig
	if cfg != nil {
		perm = cfg.Permission
	}
	opts := []Option{
		WithFeatures(features),
		WithPermissions(
			permission.ConfigFromTypes(perm),
			time.Duration(config.PermissionTimeout(cfg))*time.Second,
		),
		WithGhostOptions(gitexec.WithTimeout(time.Duration(config.GhostTimeout(cfg)) * time.Second)),
	}
	if cfg != nil && cfg.Ghost != nil {
		opts = append(opts, WithSquashOnCleanup(cfg.Ghost.SquashOnCleanup))
	}
	if config.SnapshotsEnabled(cfg) {
		dir := ""
		if cfg != nil && cfg.Snapshot != nil {
			dir = cfg.Snapshot.Dir
		}
		opts = append(opts, WithSnapshots(snapshot.NewGitFactory(dir)))
	}
	return opts
}

// NewService creates a session service.
func NewService(opts ...Option) *Service {
	s := &Service{
		permBase:    permission.DefaultConfig(),
		permTimeout: permission.DefaultTimeout,
		runtimes:    make(map[string]*runtime),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.features == nil {
		s.features = config.NewFeatureManager()
	}
	if s.checker == nil {
		s.checker = permission.NewChecker(
			permission.NewStore(s.permBase),
			s.bus,
			permission.WithTimeout(s.permTimeout),
			permission.WithDoomLoopDetection(s.features.IsEnabled(config.FeatureDoomLoopDetection)),
		)
	}
	return s
}

// Checker returns the permission checker gating this service's turns.
func (s *Service) Checker() *permission.Checker {
	return s.checker
}

// Store returns the underlying session store.
func (s *Service) Store() Store {
	return s.store
}

func logger() *zerolog.Logger {
	l := logging.Component("session")
	return &l
}

func sessionLogger(sessionID string) *zerolog.Logger {
	l := logging.Session("session", sessionID)
	return &l
}

func (s *Service) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func (s *Service) publishSession(t event.EventType, sess *types.Session) {
	info := sess.Clone()
	var props any
	switch t {
	case event.SessionCreated:
		props = event.SessionCreatedData{Info: info}
	case event.SessionDeleted:
		props = event.SessionDeletedData{Info: info}
	default:
		props = event.SessionUpdatedData{Info: info}
	}
	s.publish(event.Event{Type: t, Properties: props})
}

// runtimeFor returns the runtime of an existing session. Unknown ids get
// no runtime entry.
func (s *Service) runtimeFor(ctx context.Context, sessionID string) (*runtime, error) {
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.runtime(sessionID), nil
}

func (s *Service) runtime(sessionID string) *runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[sessionID]
	if !ok {
		rt = &runtime{}
		s.runtimes[sessionID] = rt
	}
	return rt
}

// snapshot returns the session's snapshot service, binding it to the
// session directory on first use. The second result is the baseline hash
// when this call performed the binding. Both are zero when snapshots are
// disabled or the binding failed.
func (s *Service) snapshot(ctx context.Context, rt *runtime, sess *types.Session) (snapshot.Service, string) {
	if s.snapshots == nil {
		return nil, ""
	}
	if rt.snapTried {
		return rt.snap, ""
	}
	rt.snapTried = true

	svc := s.snapshots()
	hash, err := svc.Init(ctx, sess.Directory)
	if err != nil {
		logger().Warn().Err(err).
			Str("sessionID", sess.ID).
			Str("directory", sess.Directory).
			Msg("snapshot init failed, diffs unavailable for this session")
		return nil, ""
	}
	rt.snap = svc
	return svc, hash
}

func touch(sess *types.Session) {
	sess.Time.Updated = now()
	if sess.Time.Updated < sess.Time.Created {
		sess.Time.Updated = sess.Time.Created
	}
}

// CreateOptions are the optional parameters of Create.
type CreateOptions struct {
	Title    string
	ParentID string
	// BypassMode disables permission gating for the session's turns.
	BypassMode bool
}

// Create creates a session for directory and tracks a baseline snapshot.
// A failed baseline does not fail the session.
func (s *Service) Create(ctx context.Context, directory string, opts CreateOptions) (*types.Session, error) {
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	created := now()
	sess := &types.Session{
		ID:         generateID(sessionPrefix),
		ProjectID:  project.ID(ctx, directory),
		Directory:  directory,
		Title:      title,
		Version:    DefaultVersion,
		Time:       types.SessionTime{Created: created, Updated: created},
		BypassMode: opts.BypassMode,
	}
	if opts.ParentID != "" {
		sess.ParentID = ptr(opts.ParentID)
	}
	if err := s.init(ctx, sess); err != nil {
		return nil, err
	}

	log := sessionLogger(sess.ID).Info().Str("directory", directory)
	if sess.BypassMode {
		log = log.Bool("bypass", true)
	}
	log.Msg("session created")
	return sess, nil
}

// init stores a new session, records its baseline and announces it.
func (s *Service) init(ctx context.Context, sess *types.Session) error {
	if err := s.store.Put(ctx, sess); err != nil {
		return err
	}
	rt := s.runtime(sess.ID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, baseline := s.snapshot(ctx, rt, sess); baseline != "" {
		if err := s.store.AppendHistory(ctx, sess.ID, baseline); err != nil {
			return err
		}
	}
	s.publishSession(event.SessionCreated, sess)
	s.publishSession(event.SessionUpdated, sess)
	return nil
}

// Get returns the session with the given id.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.store.Get(ctx, sessionID)
}

// List returns every session, most recently updated first.
func (s *Service) List(ctx context.Context) ([]*types.Session, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].Time.Updated != sessions[j].Time.Updated {
			return sessions[i].Time.Updated > sessions[j].Time.Updated
		}
		return sessions[i].ID > sessions[j].ID
	})
	return sessions, nil
}

// SessionUpdate lists the fields Update changes; nil fields are kept.
type SessionUpdate struct {
	Title *string
	// Archived is the archive time in Unix milliseconds.
	Archived *int64
}

// Update changes a session's title or archive time. Archiving ends the
// session's ghost commit sequence.
func (s *Service) Update(ctx context.Context, sessionID string, upd SessionUpdate) (*types.Session, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		sess.Title = *upd.Title
	}
	if upd.Archived != nil {
		sess.Time.Archived = ptr(*upd.Archived)
		if rt.ghost != nil {
			rt.ghost.CleanupGhostCommits(ctx, s.squash)
		}
	}
	touch(sess)
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	s.publishSession(event.SessionUpdated, sess)
	return sess, nil
}

// Delete removes a session and its log, cancels a running turn and
// releases ghost commits without squashing.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	var running chan struct{}
	if rt, ok := s.runtimes[sessionID]; ok {
		running = rt.done
	}
	s.mu.Unlock()
	if s.Abort(sessionID) && running != nil {
		wait := time.NewTimer(deleteWait)
		select {
		case <-running:
		case <-wait.C:
			sessionLogger(sessionID).Warn().Dur("waited", deleteWait).Msg("aborted turn still running, deleting anyway")
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		}
		wait.Stop()
	}

	rt := s.runtime(sessionID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rt.ghost != nil {
		rt.ghost.CleanupGhostCommits(ctx, false)
	}
	s.checker.ClearSession(sessionID)
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.runtimes, sessionID)
	s.mu.Unlock()

	sessionLogger(sessionID).Info().Msg("session deleted")
	s.publishSession(event.SessionDeleted, sess)
	return nil
}

// Abort cancels the session's running turn. It reports whether one was
// running.
func (s *Service) Abort(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[sessionID]
	if !ok || rt.cancel == nil {
		return false
	}
	rt.cancel()
	rt.cancel = nil
	sessionLogger(sessionID).Info().Msg("turn aborted")
	return true
}

// IsRunning reports whether a turn is running for the session.
func (s *Service) IsRunning(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[sessionID]
	return ok && rt.cancel != nil
}

// ForkOptions are the optional parameters of Fork.
type ForkOptions struct {
	// MessageID is the last message copied; empty copies the whole log.
	MessageID string
	Title     string
}

// Fork creates a child session holding an independent copy of the
// parent's log up to opts.MessageID. A fork never inherits bypass mode.
func (s *Service) Fork(ctx context.Context, sessionID string, opts ForkOptions) (*types.Session, error) {
	parentRT, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	parentRT.mu.Lock()
	parent, err := s.store.Get(ctx, sessionID)
	if err != nil {
		parentRT.mu.Unlock()
		return nil, err
	}
	msgs, err := s.store.Messages(ctx, sessionID)
	if err == nil && opts.MessageID != "" {
		idx := indexOf(msgs, opts.MessageID)
		if idx < 0 {
			err = notFound("message", opts.MessageID)
		} else {
			msgs = msgs[:idx+1]
		}
	}
	var turns []Turn
	if err == nil {
		turns, err = s.store.Turns(ctx, sessionID)
	}
	parentRT.mu.Unlock()
	if err != nil {
		return nil, err
	}

	title := opts.Title
	if title == "" {
		title = parent.Title + " (fork)"
	}
	created := now()
	child := &types.Session{
		ID:        generateID(sessionPrefix),
		ProjectID: parent.ProjectID,
		Directory: parent.Directory,
		ParentID:  ptr(parent.ID),
		Title:     title,
		Version:   parent.Version,
		Time:      types.SessionTime{Created: created, Updated: created},
	}
	if opts.MessageID != "" {
		child.ForkPoint = ptr(opts.MessageID)
	}

	// the log is written before the session becomes visible through events
	for _, msg := range msgs {
		c, err := msg.Clone()
		if err != nil {
			return nil, err
		}
		rebind(&c, child.ID)
		if err := s.store.PutMessage(ctx, child.ID, c); err != nil {
			return nil, err
		}
	}
	for _, t := range turns {
		if t.FirstMessageIndex >= len(msgs) {
			break
		}
		t.Ghost = ""
		// a turn still running in the parent ends here for the child
		if t.Open() {
			t.End = ""
			t.Time.Completed = created
		}
		if err := s.store.PutTurn(ctx, child.ID, t); err != nil {
			return nil, err
		}
	}
	if err := s.init(ctx, child); err != nil {
		return nil, err
	}

	logger().Info().
		Str("parentID", parent.ID).
		Str("sessionID", child.ID).
		Int("messages", len(msgs)).
		Msg("session forked")
	return child, nil
}

// rebind moves a copied message and its parts to another session.
func rebind(msg *types.MessageWithParts, sessionID string) {
	msg.Info.SessionID = sessionID
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case *types.TextPart:
			part.SessionID = sessionID
		case *types.ReasoningPart:
			part.SessionID = sessionID
		case *types.ToolPart:
			part.SessionID = sessionID
		case *types.FilePart:
			part.SessionID = sessionID
		}
	}
}

// Revert restores the working directory to the snapshot taken at the start
// of the turn containing messageID and marks the session as reverted. The
// message log is kept.
func (s *Service) Revert(ctx context.Context, sessionID, messageID, partID string) (*types.Session, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return nil, notFound("message", messageID)
	}
	turns, err := s.store.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ti := turnContaining(turns, idx)
	if ti < 0 || turns[ti].Start == "" {
		return nil, invalidOp("revert", "no snapshot recorded for message %s", messageID)
	}
	hash := turns[ti].Start

	snap, _ := s.snapshot(ctx, rt, sess)
	if snap == nil {
		return nil, invalidOp("revert", "snapshots unavailable for %s", sess.Directory)
	}

	var diff *string
	if current, err := snap.Track(ctx); err != nil {
		sessionLogger(sessionID).Warn().Err(err).Msg("track before revert failed")
	} else if diffs, err := snap.DiffFull(ctx, current, hash); err != nil {
		sessionLogger(sessionID).Warn().Err(err).Msg("revert diff failed")
	} else {
		diff = ptr(snapshot.RenderPatch(diffs))
	}

	if err := snap.Restore(ctx, hash); err != nil {
		return nil, &InvalidOperationError{Op: "revert", Err: err}
	}

	sess.Revert = &types.RevertInfo{
		MessageID: messageID,
		Snapshot:  ptr(hash),
		Diff:      diff,
	}
	if partID != "" {
		sess.Revert.PartID = ptr(partID)
	}
	touch(sess)
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	logger().Info().
		Str("sessionID", sessionID).
		Str("messageID", messageID).
		Str("snapshot", shortHash(hash)).
		Msg("session reverted")
	s.publishSession(event.SessionUpdated, sess)
	return sess, nil
}

// Unrevert clears the revert marker. Files are not touched. It is a no-op
// for a session that is not reverted.
func (s *Service) Unrevert(ctx context.Context, sessionID string) (*types.Session, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Revert == nil {
		return sess, nil
	}
	sess.Revert = nil
	touch(sess)
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	s.publishSession(event.SessionUpdated, sess)
	return sess, nil
}

// UndoResult reports what UndoTurns did.
type UndoResult struct {
	TurnsUndone      int  `json:"turnsUndone"`
	MessagesRemoved  int  `json:"messagesRemoved"`
	FilesReverted    int  `json:"filesReverted"`
	SnapshotRestored bool `json:"snapshotRestored"`
}

// UndoTurns removes the last count turns from the log and restores the
// working directory to the snapshot taken before the earliest of them.
// Nothing is changed when the restore fails.
func (s *Service) UndoTurns(ctx context.Context, sessionID string, count int) (UndoResult, error) {
	if s.IsRunning(sessionID) {
		return UndoResult{}, invalidOp("undo", "a turn is running in session %s", sessionID)
	}

	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return UndoResult{}, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return UndoResult{}, err
	}
	turns, err := s.store.Turns(ctx, sessionID)
	if err != nil {
		return UndoResult{}, err
	}
	if count < 1 || count > len(turns) {
		return UndoResult{}, invalidOp("undo", "cannot undo %d turns, session has %d", count, len(turns))
	}
	keep := len(turns) - count
	first := turns[keep]

	result := UndoResult{TurnsUndone: count}
	if first.Start != "" {
		snap, _ := s.snapshot(ctx, rt, sess)
		if snap == nil {
			return UndoResult{}, invalidOp("undo", "snapshots unavailable for %s", sess.Directory)
		}
		var changed []string
		current, err := snap.Track(ctx)
		if err == nil {
			changed, err = snap.Patch(ctx, first.Start, current)
		}
		if err != nil {
			sessionLogger(sessionID).Warn().Err(err).Msg("undo could not list changed files")
		}
		if err := snap.Restore(ctx, first.Start); err != nil {
			return UndoResult{}, &InvalidOperationError{Op: "undo", Err: err}
		}
		result.FilesReverted = len(changed)
		result.SnapshotRestored = true
	}
	if rt.ghost != nil {
		rt.ghost.DiscardFromTurn(ctx, first.Number)
	}

	removed, err := s.truncate(ctx, sessionID, first.FirstMessageIndex, keep)
	if err != nil {
		return UndoResult{}, err
	}
	result.MessagesRemoved = len(removed)

	if sess.Revert != nil && containsMessage(removed, sess.Revert.MessageID) {
		sess.Revert = nil
	}
	sess.Summary = nil
	if keep > 0 {
		sess.Summary = types.NewSessionSummary(s.turnDiff(ctx, rt, sess, turns[keep-1]))
	}
	touch(sess)
	if err := s.store.Put(ctx, sess); err != nil {
		return UndoResult{}, err
	}

	logger().Info().
		Str("sessionID", sessionID).
		Int("turns", count).
		Int("messages", result.MessagesRemoved).
		Int("files", result.FilesReverted).
		Msg("turns undone")
	s.publishSession(event.SessionUpdated, sess)
	return result, nil
}

// truncate drops the log from message index msgKeep and turns from index
// turnKeep, announcing every removed message.
func (s *Service) truncate(ctx context.Context, sessionID string, msgKeep, turnKeep int) ([]types.MessageWithParts, error) {
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var removed []types.MessageWithParts
	if msgKeep < len(msgs) {
		removed = msgs[msgKeep:]
	}
	if err := s.store.TruncateMessages(ctx, sessionID, msgKeep); err != nil {
		return nil, err
	}
	if err := s.store.TruncateTurns(ctx, sessionID, turnKeep); err != nil {
		return nil, err
	}
	for _, m := range removed {
		s.publish(event.Event{
			Type:       event.MessageRemoved,
			Properties: event.MessageRemovedData{SessionID: sessionID, MessageID: m.Info.ID},
		})
	}
	return removed, nil
}

// Diff returns the file changes of the latest turn, or of the turn
// containing messageID when it is set.
func (s *Service) Diff(ctx context.Context, sessionID, messageID string) ([]types.FileDiff, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if messageID == "" {
		if sess.Summary == nil {
			return []types.FileDiff{}, nil
		}
		return append([]types.FileDiff{}, sess.Summary.Diffs...), nil
	}

	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return nil, notFound("message", messageID)
	}
	turns, err := s.store.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ti := turnContaining(turns, idx)
	if ti < 0 {
		return []types.FileDiff{}, nil
	}
	return s.turnDiff(ctx, rt, sess, turns[ti]), nil
}

// turnDiff computes a turn's changes. An open turn is diffed against the
// working tree. Failures degrade to no diff.
func (s *Service) turnDiff(ctx context.Context, rt *runtime, sess *types.Session, t Turn) []types.FileDiff {
	if t.Start == "" || (!t.Open() && t.End == "") || t.Start == t.End {
		return []types.FileDiff{}
	}
	snap, _ := s.snapshot(ctx, rt, sess)
	if snap == nil {
		return []types.FileDiff{}
	}
	diffs, err := snap.DiffFull(ctx, t.Start, t.End)
	if err != nil {
		sessionLogger(sess.ID).Warn().Err(err).Int("turn", t.Number).Msg("turn diff failed")
		return []types.FileDiff{}
	}
	if diffs == nil {
		diffs = []types.FileDiff{}
	}
	return diffs
}

// Messages returns the session's message log in append order.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]types.MessageWithParts, error) {
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Messages(ctx, sessionID)
}

// Turns returns the session's turn records.
func (s *Service) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Turns(ctx, sessionID)
}

// History returns the session's snapshot hashes, baseline first.
func (s *Service) History(ctx context.Context, sessionID string) ([]string, error) {
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, sessionID)
}

// GhostCommits returns the ghost commit hashes recorded for the session.
func (s *Service) GhostCommits(sessionID string) []string {
	s.mu.Lock()
	rt, ok := s.runtimes[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.ghost == nil {
		return nil
	}
	return rt.ghost.CommitRefs()
}

// AppendMessage appends msg to the session's log.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, msg types.MessageWithParts) error {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return s.appendMessage(ctx, sessionID, msg)
}

func (s *Service) appendMessage(ctx context.Context, sessionID string, msg types.MessageWithParts) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if msg.Info.ID == "" {
		msg.Info.ID = generateID(messagePrefix)
	}
	if msg.Info.Time.Created == 0 {
		msg.Info.Time.Created = now()
	}
	rebind(&msg, sessionID)
	if err := s.store.PutMessage(ctx, sessionID, msg); err != nil {
		return err
	}
	touch(sess)
	if err := s.store.Put(ctx, sess); err != nil {
		return err
	}

	info := msg.Info
	s.publish(event.Event{Type: event.MessageUpdated, Properties: event.MessageUpdatedData{Info: &info}})
	for _, p := range msg.Parts {
		s.publish(event.Event{Type: event.PartUpdated, Properties: event.PartUpdatedData{Part: p}})
	}
	return nil
}

// UpdatePart inserts or replaces a part of a logged message. delta carries
// the newly streamed text, if any.
func (s *Service) UpdatePart(ctx context.Context, sessionID, messageID string, part types.Part, delta string) error {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return err
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return notFound("message", messageID)
	}
	msg := msgs[idx]
	upsertPart(&msg, part)
	return s.savePart(ctx, sessionID, msg, part, delta)
}

func (s *Service) savePart(ctx context.Context, sessionID string, msg types.MessageWithParts, part types.Part, delta string) error {
	if err := s.store.PutMessage(ctx, sessionID, msg); err != nil {
		return err
	}
	s.publish(event.Event{Type: event.PartUpdated, Properties: event.PartUpdatedData{Part: part, Delta: delta}})
	return nil
}

func upsertPart(msg *types.MessageWithParts, part types.Part) {
	for i, p := range msg.Parts {
		if p.PartID() == part.PartID() {
			msg.Parts[i] = part
			return
		}
	}
	msg.Parts = append(msg.Parts, part)
}

func indexOf(msgs []types.MessageWithParts, messageID string) int {
	for i := range msgs {
		if msgs[i].Info.ID == messageID {
			return i
		}
	}
	return -1
}

func containsMessage(msgs []types.MessageWithParts, messageID string) bool {
	return indexOf(msgs, messageID) >= 0
}

// turnContaining returns the index of the turn whose messages include the
// message at idx, or -1 when the message precedes every turn.
func turnContaining(turns []Turn, idx int) int {
	found := -1
	for i, t := range turns {
		if t.FirstMessageIndex > idx {
			break
		}
		found = i
	}
	return found
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
