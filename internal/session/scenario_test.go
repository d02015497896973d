package session_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/evmts/agentcore/internal/config"
	"github.com/evmts/agentcore/internal/event"
	"github.com/evmts/agentcore/internal/gitexec"
	"github.com/evmts/agentcore/internal/permission"
	"github.com/evmts/agentcore/internal/session"
	"github.com/evmts/agentcore/internal/snapshot"
	"github.com/evmts/agentcore/pkg/types"
)

func git(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	ExpectWithOffset(1, err).NotTo(HaveOccurred(), "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func writeFile(dir, name, content string) {
	path := filepath.Join(dir, name)
	ExpectWithOffset(1, os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
	ExpectWithOffset(1, os.WriteFile(path, []byte(content), 0644)).To(Succeed())
}

func readFile(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return string(data)
}

// editing returns a streamer whose only tool call writes name.
func editing(dir, name, content string) session.Streamer {
	return session.StreamerFunc(func(ctx context.Context, req session.TurnRequest) (<-chan session.StreamEvent, error) {
		input := map[string]any{"filePath": name, "content": content}
		ch := make(chan session.StreamEvent, 4)
		go func() {
			defer GinkgoRecover()
			defer close(ch)
			ch <- session.ToolStateEvent{CallID: "call_" + name, Tool: "write", State: &types.ToolStatePending{Input: input}}
			if err := req.Gate.Authorize(ctx, permission.ToolCall{CallID: "call_" + name, Tool: "write", Input: input}); err != nil {
				ch <- session.ToolStateEvent{CallID: "call_" + name, Tool: "write", State: &types.ToolStateCompleted{Input: input, Output: err.Error()}}
				return
			}
			writeFile(dir, name, content)
			ch <- session.ToolStateEvent{CallID: "call_" + name, Tool: "write", State: &types.ToolStateCompleted{Input: input, Output: "written"}}
			ch <- session.TextDeltaEvent{Text: "wrote " + name}
		}()
		return ch, nil
	})
}

var _ = Describe("Session lifecycle against real git", func() {
	var (
		ctx  context.Context
		dir  string
		bus  *event.Bus
		svc  *session.Service
		sess *types.Session
	)

	BeforeEach(func() {
		if !gitexec.Available() {
			Skip("git not installed")
		}
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		bus = event.NewBus()
		DeferCleanup(bus.Close)

		features := config.NewFeatureManager()
		features.Disable(config.FeatureGhostCommit)
		svc = session.NewService(
			session.WithPublisher(bus),
			session.WithSnapshots(snapshot.NewGitFactory(GinkgoT().TempDir())),
			session.WithFeatures(features),
		)

		var err error
		sess, err = svc.Create(ctx, dir, session.CreateOptions{Title: "scenario", BypassMode: true})
		Expect(err).NotTo(HaveOccurred())
	})

	It("tracks a baseline at creation", func() {
		history, err := svc.History(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(1))
		Expect(sess.Time.Updated).To(BeNumerically(">=", sess.Time.Created))
		Expect(filepath.Join(dir, ".git")).NotTo(BeADirectory())
	})

	It("reports the diff of a turn that edits a file", func() {
		writeFile(dir, "a.txt", "one\ntwo\nthree\n")
		_, err := svc.RunTurn(ctx, sess.ID, "noop", editing(dir, "b.txt", "b\n"))
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.RunTurn(ctx, sess.ID, "edit a", editing(dir, "a.txt", "one\n2\nthree\nfour\n"))
		Expect(err).NotTo(HaveOccurred())

		diffs, err := svc.Diff(ctx, sess.ID, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(diffs).To(HaveLen(1))
		Expect(diffs[0].File).To(Equal("a.txt"))
		Expect(diffs[0].Additions).To(Equal(2))
		Expect(diffs[0].Deletions).To(Equal(1))
	})

	It("undoes the last two of three turns", func() {
		for i, content := range []string{"1\n", "2\n", "3\n"} {
			_, err := svc.RunTurn(ctx, sess.ID, "turn", editing(dir, "a.txt", content))
			Expect(err).NotTo(HaveOccurred(), "turn %d", i+1)
		}
		writeFile(dir, "later.txt", "unrelated\n")

		res, err := svc.UndoTurns(ctx, sess.ID, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.TurnsUndone).To(Equal(2))
		Expect(res.MessagesRemoved).To(Equal(4))
		Expect(res.SnapshotRestored).To(BeTrue())
		Expect(res.FilesReverted).To(Equal(2), "a.txt and the untracked later.txt")

		msgs, err := svc.Messages(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
		Expect(readFile(dir, "a.txt")).To(Equal("1\n"))
		Expect(filepath.Join(dir, "later.txt")).NotTo(BeAnExistingFile())

		_, err = svc.UndoTurns(ctx, sess.ID, 2)
		Expect(session.IsInvalidOperation(err)).To(BeTrue())
	})

	It("forks at the second message into an independent log", func() {
		for _, name := range []string{"a.txt", "b.txt"} {
			_, err := svc.RunTurn(ctx, sess.ID, "write "+name, editing(dir, name, name))
			Expect(err).NotTo(HaveOccurred())
		}
		msgs, err := svc.Messages(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(4))

		child, err := svc.Fork(ctx, sess.ID, session.ForkOptions{MessageID: msgs[1].Info.ID})
		Expect(err).NotTo(HaveOccurred())
		Expect(child.BypassMode).To(BeFalse())

		childMsgs, err := svc.Messages(ctx, child.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(childMsgs).To(HaveLen(2))

		_, err = svc.RunTurn(ctx, sess.ID, "more", editing(dir, "c.txt", "c"))
		Expect(err).NotTo(HaveOccurred())
		childMsgs, err = svc.Messages(ctx, child.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(childMsgs).To(HaveLen(2))
	})

	It("reverts files and keeps the log until the next turn", func() {
		_, err := svc.RunTurn(ctx, sess.ID, "v1", editing(dir, "a.txt", "v1\n"))
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.RunTurn(ctx, sess.ID, "v2", editing(dir, "a.txt", "v2\n"))
		Expect(err).NotTo(HaveOccurred())
		turns, err := svc.Turns(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())

		reverted, err := svc.Revert(ctx, sess.ID, turns[1].UserMessageID, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(readFile(dir, "a.txt")).To(Equal("v1\n"))
		Expect(reverted.Revert).NotTo(BeNil())
		Expect(*reverted.Revert.Diff).To(ContainSubstring("-v2"))

		msgs, err := svc.Messages(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(4))

		_, err = svc.RunTurn(ctx, sess.ID, "v2 again", editing(dir, "a.txt", "v2b\n"))
		Expect(err).NotTo(HaveOccurred())
		msgs, err = svc.Messages(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(4))
		got, err := svc.Get(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Revert).To(BeNil())
	})

	It("streams lifecycle events to subscribers", func() {
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		events, err := bus.Stream(streamCtx)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Update(ctx, sess.ID, session.SessionUpdate{Title: ptr("renamed")})
		Expect(err).NotTo(HaveOccurred())

		Eventually(events).Should(Receive(HaveField("Type", event.SessionUpdated)))
	})
})

var _ = Describe("Ghost commits", func() {
	var (
		ctx  context.Context
		dir  string
		svc  *session.Service
		sess *types.Session
	)

	BeforeEach(func() {
		if !gitexec.Available() {
			Skip("git not installed")
		}
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		git(dir, "init", "-q")
		git(dir, "config", "user.name", "Test")
		git(dir, "config", "user.email", "test@example.com")
		git(dir, "config", "commit.gpgsign", "false")
		writeFile(dir, "README.md", "readme\n")
		git(dir, "add", "-A")
		git(dir, "commit", "-q", "-m", "initial")

		features := config.NewFeatureManager()
		features.Enable(config.FeatureGhostCommit)
		svc = session.NewService(
			session.WithSnapshots(snapshot.NewGitFactory(GinkgoT().TempDir())),
			session.WithFeatures(features),
		)
		var err error
		sess, err = svc.Create(ctx, dir, session.CreateOptions{BypassMode: true})
		Expect(err).NotTo(HaveOccurred())
	})

	It("commits every turn that changes files", func() {
		_, err := svc.RunTurn(ctx, sess.ID, "add a\nwith details", editing(dir, "a.txt", "a\n"))
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.RunTurn(ctx, sess.ID, "add b", editing(dir, "b.txt", "b\n"))
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.GhostCommits(sess.ID)).To(HaveLen(2))
		Expect(git(dir, "log", "-2", "--format=%s")).To(Equal("[agent] Turn 2: add b\n[agent] Turn 1: add a"))

		turns, err := svc.Turns(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns[0].Ghost).To(Equal(svc.GhostCommits(sess.ID)[0]))
	})

	It("drops ghost commits of undone turns", func() {
		base := git(dir, "rev-parse", "HEAD")
		_, err := svc.RunTurn(ctx, sess.ID, "add a", editing(dir, "a.txt", "a\n"))
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.RunTurn(ctx, sess.ID, "add b", editing(dir, "b.txt", "b\n"))
		Expect(err).NotTo(HaveOccurred())
		refs := svc.GhostCommits(sess.ID)

		_, err = svc.UndoTurns(ctx, sess.ID, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.GhostCommits(sess.ID)).To(Equal(refs[:1]))
		Expect(git(dir, "rev-parse", "HEAD")).To(Equal(refs[0]))
		Expect(git(dir, "status", "--porcelain")).To(BeEmpty())

		_, err = svc.UndoTurns(ctx, sess.ID, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(git(dir, "rev-parse", "HEAD")).To(Equal(base))
	})

	It("releases ghost commits on delete without squashing", func() {
		base := git(dir, "rev-parse", "HEAD")
		_, err := svc.RunTurn(ctx, sess.ID, "add a", editing(dir, "a.txt", "a\n"))
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.Delete(ctx, sess.ID)).To(Succeed())
		Expect(git(dir, "rev-parse", "HEAD")).To(Equal(base))
		Expect(git(dir, "status", "--porcelain")).To(Equal("A  a.txt"))
	})
})

func ptr[T any](v T) *T {
	return &v
}
