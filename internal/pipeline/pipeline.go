// Package pipeline implements the executor (domain §4.E): the per-message
// lifecycle (normalize, stage, snapshot, retry, finalize) and the
// depth-first chain drain that processes every follow-up message an inbox
// message's routine spawns.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sipeed/specloom/internal/checkpoint"
	"github.com/sipeed/specloom/internal/config"
	"github.com/sipeed/specloom/internal/diffcodec"
	"github.com/sipeed/specloom/internal/logging"
	"github.com/sipeed/specloom/internal/message"
	"github.com/sipeed/specloom/internal/notify"
	"github.com/sipeed/specloom/internal/router"
	"github.com/sipeed/specloom/internal/routine"
	"github.com/sipeed/specloom/internal/runindex"
	"github.com/sipeed/specloom/pkg/domain"
)

// Outcome is the terminal disposition of one message's lifecycle.
type Outcome int

const (
	Success Outcome = iota
	DeadLettered
)

// MessageResult is the outcome of ProcessSingleMessage.
type MessageResult struct {
	Outcome  Outcome
	Reason   string
	MsgID    string
	Chain    string
	Attempts int
}

// ChainResult is the outcome of ProcessChain: the root message's disposition,
// plus how many follow-up messages were drained along the way.
type ChainResult struct {
	Root      MessageResult
	Chain     string
	Processed int
}

// notifyTimeout bounds a single best-effort notification attempt.
const notifyTimeout = 15 * time.Second

// Pipeline wires the executor to its collaborators. A nil Router, Notifier,
// Index, or Bus degrades gracefully: no router callback, no notification,
// no index updates, no events, respectively.
type Pipeline struct {
	Root     string
	Config   config.Config
	Router   router.Fn
	Notifier notify.Notifier
	Index    *runindex.Index
	Bus      domain.EventBus
	Log      zerolog.Logger
}

func (p *Pipeline) inboxDir() string { return filepath.Join(p.Root, ".decree", "inbox") }
func (p *Pipeline) stateDir() string { return filepath.Join(p.Root, ".decree") }

// ProcessChain processes initialMessagePath, then depth-first drains every
// unprocessed inbox message sharing its chain, in ascending seq order,
// re-scanning the inbox after each completion so a routine's own follow-ups
// are picked up. The chain's overall outcome mirrors the initial message's
// outcome; follow-ups succeed or dead-letter independently and are recorded
// in the Run Index regardless.
func (p *Pipeline) ProcessChain(ctx context.Context, initialMessagePath string, specRoutine string) (ChainResult, error) {
	root, err := p.ProcessSingleMessage(ctx, initialMessagePath, specRoutine)
	if err != nil {
		return ChainResult{}, err
	}

	result := ChainResult{Root: root, Chain: root.Chain}
	for {
		next, ok, err := p.FindNextChainMessage(root.Chain)
		if err != nil {
			return result, err
		}
		if !ok {
			break
		}
		if _, err := p.ProcessSingleMessage(ctx, next, specRoutine); err != nil {
			return result, err
		}
		result.Processed++
	}

	p.publish(domain.EventChainCompleted, root.MsgID)
	p.notifyBestEffort(notify.Event{Kind: notify.EventChainComplete, Chain: root.Chain})
	return result, nil
}

// FindNextChainMessage returns the lowest-seq unprocessed inbox message
// belonging to chain, or ok=false if none remain. Chain membership is read
// from frontmatter when present, falling back to the filename prefix for
// messages that have not yet been normalized.
func (p *Pipeline) FindNextChainMessage(chain string) (string, bool, error) {
	entries, err := os.ReadDir(p.inboxDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	type candidate struct {
		path string
		seq  uint32
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		full := filepath.Join(p.inboxDir(), e.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		fm, _ := message.ParseMessageFile(string(data))

		msgChain := ""
		if fm.Chain != nil {
			msgChain = *fm.Chain
		}
		var seq uint32
		if fm.Seq != nil {
			seq = *fm.Seq
		}
		if msgChain == "" || fm.Seq == nil {
			if fnChain, fnSeq, ok := message.ChainSeqFromFilename(e.Name()); ok {
				if msgChain == "" {
					msgChain = fnChain
				}
				if fm.Seq == nil {
					seq = fnSeq
				}
			}
		}
		if msgChain != chain {
			continue
		}
		candidates = append(candidates, candidate{full, seq})
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })
	return candidates[0].path, true, nil
}

type attemptRecord struct {
	Attempt  int
	ExitCode int
	LogTail  string
}

// ProcessSingleMessage runs the full per-message lifecycle from spec.md
// §4.E: normalize, depth check, stage, resolve routine, snapshot, retry
// loop (with final-attempt revert and failure-context on exhaustion), then
// move the message to done/ or dead/.
func (p *Pipeline) ProcessSingleMessage(ctx context.Context, path string, specRoutine string) (MessageResult, error) {
	routines, err := routine.DiscoverRoutines(p.Root, p.Config.NotebookSupport)
	if err != nil {
		return MessageResult{}, fmt.Errorf("pipeline: discover routines: %w", err)
	}

	var routerFn message.RouterFn
	if p.Router != nil {
		routerFn = func(prompt string) (string, error) { return p.Router(ctx, prompt) }
	}
	msgCfg := message.Config{DefaultRoutine: p.Config.DefaultRoutine}

	msg, err := message.NormalizeMessage(path, msgCfg, routines, routerFn, specRoutine)
	if err != nil {
		reason := fmt.Sprintf("normalize failed: %v", err)
		if moveErr := p.deadLetterRaw(path, reason); moveErr != nil {
			return MessageResult{}, moveErr
		}
		p.emitDeadLetter("", "", reason)
		return MessageResult{Outcome: DeadLettered, Reason: reason}, nil
	}

	log := logging.WithMessage(logging.WithChain(p.Log, msg.Chain), msg.ID, 0)
	log.Info().Msg("message normalized")
	p.publish(domain.EventMessageNormalized, msg.ID)

	if uint(msg.Seq) >= p.Config.MaxDepth {
		reason := fmt.Sprintf("max depth exceeded: seq %d >= max_depth %d", msg.Seq, p.Config.MaxDepth)
		if err := p.moveTo(path, "dead", reason); err != nil {
			return MessageResult{}, err
		}
		p.emitDeadLetter(msg.Chain, msg.ID, reason)
		return MessageResult{Outcome: DeadLettered, Reason: reason, MsgID: msg.ID, Chain: msg.Chain}, nil
	}

	runID := message.ID{Chain: msg.Chain, Seq: msg.Seq}
	runDir := message.RunDir(p.stateDir(), runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return MessageResult{}, fmt.Errorf("pipeline: stage %s: %w", runID, err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "message.md"), []byte(message.SerializeMessage(msg)), 0o644); err != nil {
		return MessageResult{}, fmt.Errorf("pipeline: write canonical message: %w", err)
	}

	resolved, err := routine.ResolveRoutine(p.Root, msg.Routine, p.Config.NotebookSupport)
	if err != nil {
		reason := fmt.Sprintf("routine not found: %v", err)
		if err := p.moveTo(path, "dead", reason); err != nil {
			return MessageResult{}, err
		}
		p.emitDeadLetter(msg.Chain, msg.ID, reason)
		return MessageResult{Outcome: DeadLettered, Reason: reason, MsgID: msg.ID, Chain: msg.Chain}, nil
	}

	startedAt := time.Now().UTC()
	pre, err := checkpoint.Capture(p.Root)
	if err != nil {
		return MessageResult{}, fmt.Errorf("pipeline: snapshot: %w", err)
	}
	if err := checkpoint.SaveManifest(pre.Manifest, filepath.Join(runDir, "manifest.json")); err != nil {
		return MessageResult{}, fmt.Errorf("pipeline: persist manifest: %w", err)
	}
	p.publish(domain.EventCheckpointCaptured, msg.ID)

	maxRetries := p.Config.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	msgParams := routine.MessageParams{
		ID:          msg.ID,
		Chain:       msg.Chain,
		Seq:         msg.Seq,
		InputFile:   msg.InputFile,
		CustomField: msg.Custom.Get,
	}

	var attempts []attemptRecord
	for attempt := uint(1); attempt <= maxRetries; attempt++ {
		attemptLog := logging.WithMessage(logging.WithChain(p.Log, msg.Chain), msg.ID, int(attempt))
		finalAttempt := attempt == maxRetries
		hadFailure := len(attempts) > 0

		if finalAttempt && hadFailure {
			post, err := checkpoint.Capture(p.Root)
			if err != nil {
				return MessageResult{}, fmt.Errorf("pipeline: capture before final revert: %w", err)
			}
			if err := writeDiffFile(runDir, checkpoint.GenerateDiff(pre, post)); err != nil {
				return MessageResult{}, err
			}
			if err := checkpoint.Revert(p.Root, pre, post); err != nil {
				return MessageResult{}, fmt.Errorf("pipeline: revert before final attempt: %w", err)
			}
			if err := checkpoint.VerifyIntegrity(p.Root, pre.Manifest); err != nil {
				return MessageResult{}, fmt.Errorf("pipeline: %w", err)
			}
			p.publish(domain.EventTreeReverted, msg.ID)
			if err := writeFailureContext(runDir, attempts); err != nil {
				return MessageResult{}, err
			}
		}

		result, err := routine.ExecuteRoutine(p.Root, resolved, msgParams, runDir)
		if err != nil {
			return MessageResult{}, fmt.Errorf("pipeline: execute routine: %w", err)
		}
		tail, _ := tailLines(result.LogPath, 200)
		attempts = append(attempts, attemptRecord{Attempt: int(attempt), ExitCode: result.ExitCode, LogTail: tail})
		p.publish(domain.EventRoutineAttempted, msg.ID)
		attemptLog.Info().Bool("success", result.Success).Int("exit_code", result.ExitCode).Msg("routine attempt finished")

		if result.Success {
			post, err := checkpoint.Capture(p.Root)
			if err != nil {
				return MessageResult{}, fmt.Errorf("pipeline: capture after success: %w", err)
			}
			if err := writeDiffFile(runDir, checkpoint.GenerateDiff(pre, post)); err != nil {
				return MessageResult{}, err
			}
			p.publish(domain.EventDiffGenerated, msg.ID)

			if err := p.moveTo(path, "done", ""); err != nil {
				return MessageResult{}, err
			}
			if msg.Kind == message.KindSpec && msg.HasInput {
				if err := appendProcessedSpec(p.Root, filepath.Base(msg.InputFile)); err != nil {
					return MessageResult{}, err
				}
			}
			p.publish(domain.EventMessageSucceeded, msg.ID)
			p.upsertRun(msg, domain.RunDone, len(attempts), startedAt)
			return MessageResult{Outcome: Success, MsgID: msg.ID, Chain: msg.Chain, Attempts: len(attempts)}, nil
		}

		if !finalAttempt {
			post, err := checkpoint.Capture(p.Root)
			if err != nil {
				return MessageResult{}, fmt.Errorf("pipeline: capture after failed attempt: %w", err)
			}
			if err := writeDiffFile(runDir, checkpoint.GenerateDiff(pre, post)); err != nil {
				return MessageResult{}, err
			}
		}
	}

	post, err := checkpoint.Capture(p.Root)
	if err != nil {
		return MessageResult{}, fmt.Errorf("pipeline: capture before dead-letter revert: %w", err)
	}
	if err := writeDiffFile(runDir, checkpoint.GenerateDiff(pre, post)); err != nil {
		return MessageResult{}, err
	}
	if err := checkpoint.Revert(p.Root, pre, post); err != nil {
		return MessageResult{}, fmt.Errorf("pipeline: revert after exhausted retries: %w", err)
	}
	if err := checkpoint.VerifyIntegrity(p.Root, pre.Manifest); err != nil {
		return MessageResult{}, fmt.Errorf("pipeline: %w", err)
	}
	p.publish(domain.EventTreeReverted, msg.ID)

	reason := fmt.Sprintf("routine failed after %d attempt(s)", len(attempts))
	if err := p.moveTo(path, "dead", reason); err != nil {
		return MessageResult{}, err
	}
	p.emitDeadLetter(msg.Chain, msg.ID, reason)
	p.upsertRun(msg, domain.RunDead, len(attempts), startedAt)
	return MessageResult{Outcome: DeadLettered, Reason: reason, MsgID: msg.ID, Chain: msg.Chain, Attempts: len(attempts)}, nil
}

func writeDiffFile(runDir string, diffs []diffcodec.FileDiff) error {
	text := diffcodec.EmitAll(diffs)
	if err := os.WriteFile(filepath.Join(runDir, "changes.diff"), []byte(text), 0o644); err != nil {
		return fmt.Errorf("pipeline: write changes.diff: %w", err)
	}
	return nil
}

func writeFailureContext(runDir string, attempts []attemptRecord) error {
	var b strings.Builder
	b.WriteString("# Failure Context\n\n")
	for _, a := range attempts {
		fmt.Fprintf(&b, "## Attempt %d (exit code %d)\n\n```\n%s\n```\n\n", a.Attempt, a.ExitCode, a.LogTail)
	}
	if err := os.WriteFile(filepath.Join(runDir, "failure-context.md"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("pipeline: write failure-context.md: %w", err)
	}
	return nil
}

// tailLines returns the last n lines of the file at path, or "" if it
// cannot be read (a routine that crashed before writing its log, say).
func tailLines(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if len(ring) > n {
			ring = ring[1:]
		}
	}
	return strings.Join(ring, "\n"), scanner.Err()
}

// deadLetterRaw dead-letters a message that failed to normalize: it has no
// InboxMessage yet, so the reason is appended directly to the raw file
// before the rename.
func (p *Pipeline) deadLetterRaw(path, reason string) error {
	if err := appendFooter(path, reason); err != nil {
		return err
	}
	dest := filepath.Join(p.inboxDir(), "dead", filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("pipeline: mkdir dead: %w", err)
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("pipeline: move to dead: %w", err)
	}
	return nil
}

// moveTo renames path into ".decree/inbox/<bucket>/", appending a
// dead-letter reason footer first when bucket is "dead".
func (p *Pipeline) moveTo(path, bucket, reason string) error {
	if bucket == "dead" && reason != "" {
		if err := appendFooter(path, reason); err != nil {
			return err
		}
	}
	dest := filepath.Join(p.inboxDir(), bucket, filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("pipeline: mkdir %s: %w", bucket, err)
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("pipeline: move to %s: %w", bucket, err)
	}
	return nil
}

// MoveToDone moves a message file into ".decree/inbox/done/".
func (p *Pipeline) MoveToDone(path string) error { return p.moveTo(path, "done", "") }

// MoveToDead moves a message file into ".decree/inbox/dead/", appending a
// reason footer.
func (p *Pipeline) MoveToDead(path, reason string) error { return p.moveTo(path, "dead", reason) }

func appendFooter(path, reason string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("pipeline: append footer to %s: %w", path, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "\n<!-- dead-letter: %s -->\n", reason)
	return err
}

// appendProcessedSpec records that a spec input has been processed, per
// spec.md §6's processed-spec marker format: a newline-separated list with
// a trailing newline preserved.
func appendProcessedSpec(root, name string) error {
	path := filepath.Join(root, "specs", "processed-spec.md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pipeline: mkdir specs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("pipeline: open processed-spec.md: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\n", name)
	return err
}

func (p *Pipeline) publish(t domain.EventType, messageID string) {
	if p.Bus == nil {
		return
	}
	p.Bus.Publish(domain.NewEvent(t, map[string]string{"message_id": messageID}))
}

func (p *Pipeline) emitDeadLetter(chain, messageID, reason string) {
	p.publish(domain.EventMessageDeadLettered, messageID)
	p.notifyBestEffort(notify.Event{Kind: notify.EventDeadLetter, Chain: chain, MessageID: messageID, Reason: reason})
}

func (p *Pipeline) notifyBestEffort(ev notify.Event) {
	if p.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := p.Notifier.Notify(ctx, ev); err != nil {
		p.Log.Warn().Err(err).Str("chain", ev.Chain).Msg("pipeline: notify failed")
	}
}

func (p *Pipeline) upsertRun(msg message.InboxMessage, status domain.RunStatus, attempts int, startedAt time.Time) {
	if p.Index == nil {
		return
	}
	endedAt := time.Now().UTC()
	rec := runindex.RunRecord{
		ID:        msg.ID,
		Chain:     msg.Chain,
		Seq:       msg.Seq,
		Routine:   msg.Routine,
		Status:    status,
		Attempts:  attempts,
		StartedAt: startedAt,
		EndedAt:   &endedAt,
	}
	if err := p.Index.Upsert(rec); err != nil {
		p.Log.Warn().Err(err).Str("message_id", msg.ID).Msg("pipeline: run index upsert failed")
	}
}

// LastRun is the record stored at ".decree/last-run.yml" by SaveLastRun and
// read back by LoadLastRun. The pipeline and the CLI commands neither write
// nor read it.
type LastRun struct {
	ID        string    `yaml:"id"`
	Chain     string    `yaml:"chain"`
	Status    string    `yaml:"status"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

func lastRunPath(root string) string {
	return filepath.Join(root, ".decree", "last-run.yml")
}

// LoadLastRun reads ".decree/last-run.yml". A missing file is not an error:
// it returns the zero value and ok=false.
func LoadLastRun(root string) (LastRun, bool, error) {
	data, err := os.ReadFile(lastRunPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return LastRun{}, false, nil
		}
		return LastRun{}, false, fmt.Errorf("pipeline: read last-run.yml: %w", err)
	}
	var lr LastRun
	if err := yaml.Unmarshal(data, &lr); err != nil {
		return LastRun{}, false, fmt.Errorf("pipeline: parse last-run.yml: %w", err)
	}
	return lr, true, nil
}

// SaveLastRun writes lr to ".decree/last-run.yml" via write-then-rename.
func SaveLastRun(root string, lr LastRun) error {
	data, err := yaml.Marshal(lr)
	if err != nil {
		return fmt.Errorf("pipeline: marshal last-run.yml: %w", err)
	}
	path := lastRunPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pipeline: mkdir for last-run.yml: %w", err)
	}
	return checkpoint.WriteFileAtomic(path, data)
}

// NewTaskMessage writes a fully-normalized "task" inbox message (the kind
// the "run" command creates), starting a new chain. routineName may be
// empty to let the normalizer's fallback chain choose. vars become custom
// frontmatter fields, in the order given.
func NewTaskMessage(root, routineName, body string, vars []message.CustomField) (string, error) {
	chain := message.NewChain(0)
	msg := message.InboxMessage{
		ID:      chain + "-0",
		Chain:   chain,
		Seq:     0,
		Kind:    message.KindTask,
		Routine: routineName,
		Body:    body,
		Custom:  vars,
	}
	path := filepath.Join(root, ".decree", "inbox", msg.ID+".md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("pipeline: mkdir inbox: %w", err)
	}
	if err := os.WriteFile(path, []byte(message.SerializeMessage(msg)), 0o644); err != nil {
		return "", fmt.Errorf("pipeline: write message: %w", err)
	}
	return path, nil
}

// NewSpecMessage writes a fully-normalized "spec" inbox message referencing
// specRelPath, starting a new chain.
func NewSpecMessage(root, specRelPath string) (string, error) {
	chain := message.NewChain(0)
	msg := message.InboxMessage{
		ID:        chain + "-0",
		Chain:     chain,
		Seq:       0,
		Kind:      message.KindSpec,
		InputFile: specRelPath,
		HasInput:  true,
	}
	path := filepath.Join(root, ".decree", "inbox", msg.ID+".md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("pipeline: mkdir inbox: %w", err)
	}
	if err := os.WriteFile(path, []byte(message.SerializeMessage(msg)), 0o644); err != nil {
		return "", fmt.Errorf("pipeline: write message: %w", err)
	}
	return path, nil
}

// UnprocessedSpecs returns every "specs/*.spec.md" file not yet listed in
// "specs/processed-spec.md", in lexicographic order.
func UnprocessedSpecs(root string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, "specs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pipeline: list specs: %w", err)
	}

	processed := make(map[string]bool)
	data, err := os.ReadFile(filepath.Join(root, "specs", "processed-spec.md"))
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if line != "" {
				processed[line] = true
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("pipeline: read processed-spec.md: %w", err)
	}

	var specs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".spec.md") {
			continue
		}
		if !processed[e.Name()] {
			specs = append(specs, e.Name())
		}
	}
	sort.Strings(specs)
	return specs, nil
}
