package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/metrics"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/platform"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
	"github.com/Chapsvision-dev/backup-gateway/internal/util"
)

// Verification is the outcome of a restore probe.
type Verification string

const (
	VerificationSkipped Verification = "skipped"
	VerificationPassed  Verification = "passed"
	VerificationFailed  Verification = "failed"
)

// Request describes one backup attempt.
type Request struct {
	Origin      string
	Destination string
	Content     io.Reader
	// Filename is optional; a timestamped name is derived from Date otherwise.
	Filename string
	Date     time.Time
	// SHA1Sum, when set, must match the received bytes.
	SHA1Sum       string
	BeforeRestore bool
	AfterRestore  bool
}

func (r Request) validate() error {
	var missing []string
	if strings.TrimSpace(r.Origin) == "" {
		missing = append(missing, "origin")
	}
	if strings.TrimSpace(r.Destination) == "" {
		missing = append(missing, "destination")
	}
	if r.Content == nil {
		missing = append(missing, "file")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if r.SHA1Sum != "" && !sha1Hex.MatchString(r.SHA1Sum) {
		return fmt.Errorf("%w: sha1sum must be 40 hex characters", ErrValidation)
	}
	return nil
}

type Result struct {
	Backup model.Backup
	// PreCheck is the outcome of the probe against the previous backup.
	PreCheck Verification
	// Verification is the outcome of the probe against the new artifact.
	Verification Verification
	Warnings     []string
}

// PerformBackup streams req.Content to the destination and records it.
// The returned error is nil only when the artifact is stored and its record
// is marked successful; verification problems are reported in Result.
func (o *Orchestrator) PerformBackup(ctx context.Context, req Request) (Result, error) {
	res := Result{PreCheck: VerificationSkipped, Verification: VerificationSkipped}
	if err := req.validate(); err != nil {
		return res, err
	}
	date := req.Date
	if date.IsZero() {
		date = o.now()
	}
	name, err := artifactName(req.Filename, date, o.tsFormat)
	if err != nil {
		return res, err
	}

	t, err := o.resolve(ctx, req.Origin, req.Destination)
	if err != nil {
		return res, err
	}
	subdir := t.subdir()

	key := lockKey(t.dest.ID, subdir, name)
	o.locks.Lock(key)
	defer o.locks.Unlock(key)

	rec := model.Backup{
		ID:            platform.NewID(),
		Name:          name,
		OriginID:      &t.origin.ID,
		DestinationID: t.dest.ID,
		Date:          date,
		BeforeRestore: req.BeforeRestore,
		AfterRestore:  req.AfterRestore,
	}
	if err := o.store.CreateBackup(ctx, &rec); err != nil {
		return res, fmt.Errorf("create backup record: %w", err)
	}

	if req.BeforeRestore {
		verdict, warning := o.preCheck(ctx, t)
		res.PreCheck = verdict
		if warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
	}

	start := time.Now()
	log.Info().
		Str("action", "backup").
		Str("origin", t.origin.Name).
		Str("destination", t.dest.Name).
		Str("type", t.typ()).
		Str("name", name).
		Msg("starting backup")

	hr := util.NewHashingReader(req.Content)
	if req.SHA1Sum != "" {
		hr.Expect(req.SHA1Sum)
	}
	if err := t.backend.Backup(ctx, hr, subdir, name); err != nil {
		o.dropRecord(ctx, rec.ID)
		if hr.Mismatched() {
			metrics.ObserveTransfer("backup", t.typ(), metrics.OutcomeMismatch, hr.Size(), time.Since(start))
			log.Warn().
				Str("action", "backup").
				Str("destination", t.dest.Name).
				Str("name", name).
				Str("expected", req.SHA1Sum).
				Str("actual", hr.Sum()).
				Msg("checksum mismatch, upload discarded")
			return res, fmt.Errorf("backup %s: %w: expected %s, received %s", name, ErrChecksumMismatch, strings.ToLower(req.SHA1Sum), hr.Sum())
		}
		metrics.ObserveTransfer("backup", t.typ(), metrics.OutcomeFailure, hr.Size(), time.Since(start))
		log.Error().
			Err(err).
			Str("action", "backup").
			Str("destination", t.dest.Name).
			Str("name", name).
			Dur("elapsed_ms", time.Since(start)).
			Msg("backup failed")
		return res, fmt.Errorf("backup %s: %w", name, err)
	}
	sum, size := hr.Sum(), hr.Size()

	rec.SHA1Sum = sum
	rec.SizeBytes = size

	var probe *model.Backup
	if req.AfterRestore {
		p, verdict := o.postCheck(ctx, t, rec, sum)
		if err := o.store.CreateBackup(ctx, &p); err != nil {
			o.dropUnreferencedArtifact(ctx, t, name)
			o.dropRecord(ctx, rec.ID)
			return res, fmt.Errorf("record verification: %w", err)
		}
		probe = &p
		rec.RelatedTo = &p.ID
		rec.RestoreDT = p.RestoreDT
		res.Verification = verdict
		if verdict == VerificationFailed {
			res.Warnings = append(res.Warnings, fmt.Sprintf("verification of %s failed: restored content does not match upload", name))
		}
	}

	ok := true
	rec.Success = &ok
	if err := o.store.UpdateBackup(ctx, &rec); err != nil {
		o.dropUnreferencedArtifact(ctx, t, name)
		if probe != nil {
			o.dropRecord(ctx, probe.ID)
		}
		o.dropRecord(ctx, rec.ID)
		return res, fmt.Errorf("finalize backup record: %w", err)
	}

	metrics.ObserveTransfer("backup", t.typ(), metrics.OutcomeSuccess, size, time.Since(start))
	log.Info().
		Str("action", "backup").
		Str("destination", t.dest.Name).
		Str("name", name).
		Int64("bytes", size).
		Str("sha1", sum).
		Str("verification", string(res.Verification)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("backup OK")

	res.Backup = rec
	return res, nil
}

// preCheck probes the newest previous successful backup and records the
// outcome. It never fails the caller: problems come back as a warning.
func (o *Orchestrator) preCheck(ctx context.Context, t target) (Verification, string) {
	prev, err := o.store.LatestSuccessfulBackup(ctx, t.origin.ID, t.dest.ID)
	if errors.Is(err, store.ErrNotFound) {
		return VerificationSkipped, "no previous backup to verify before restore"
	}
	if err != nil {
		log.Warn().Err(err).Str("action", "pre_check").Msg("cannot look up previous backup")
		return VerificationSkipped, "previous backup lookup failed"
	}

	sum, size, perr := o.probe(ctx, t, prev.Name)
	ok := perr == nil && (prev.SHA1Sum == "" || prev.SHA1Sum == sum)
	verdict := verdictOf(ok)

	now := o.now()
	p := model.Backup{
		ID:             platform.NewID(),
		Name:           prev.Name,
		OriginID:       &t.origin.ID,
		DestinationID:  t.dest.ID,
		Date:           now,
		Success:        &ok,
		RestoreDT:      &now,
		IsVerification: true,
		SHA1Sum:        sum,
		SizeBytes:      size,
	}
	if err := o.store.CreateBackup(ctx, &p); err != nil {
		log.Warn().Err(err).Str("action", "pre_check").Msg("cannot record verification")
		return verdict, "verification of previous backup could not be recorded"
	}
	prev.RelatedTo = &p.ID
	if err := o.store.UpdateBackup(ctx, &prev); err != nil {
		log.Warn().Err(err).Str("action", "pre_check").Str("backup", prev.ID).Msg("cannot link verification")
	}

	if !ok {
		metrics.VerificationFailures.WithLabelValues(t.typ()).Inc()
		log.Warn().Err(perr).Str("action", "pre_check").Str("destination", t.dest.Name).
			Str("name", prev.Name).Msg("previous backup is not restorable")
		return verdict, fmt.Sprintf("previous backup %s is not restorable", prev.Name)
	}
	return verdict, ""
}

// postCheck restores the artifact just written and compares digests. The
// returned record is not persisted yet.
func (o *Orchestrator) postCheck(ctx context.Context, t target, rec model.Backup, want string) (model.Backup, Verification) {
	sum, size, err := o.probe(ctx, t, rec.Name)
	ok := err == nil && sum == want
	if !ok {
		metrics.VerificationFailures.WithLabelValues(t.typ()).Inc()
		log.Warn().Err(err).Str("action", "post_check").Str("destination", t.dest.Name).
			Str("name", rec.Name).Str("expected", want).Str("actual", sum).Msg("verification failed")
	}

	now := o.now()
	return model.Backup{
		ID:             platform.NewID(),
		Name:           rec.Name,
		OriginID:       rec.OriginID,
		DestinationID:  rec.DestinationID,
		Date:           now,
		Success:        &ok,
		RestoreDT:      &now,
		IsVerification: true,
		SHA1Sum:        sum,
		SizeBytes:      size,
	}, verdictOf(ok)
}

// probe restores name and hashes it without keeping the bytes.
func (o *Orchestrator) probe(ctx context.Context, t target, name string) (string, int64, error) {
	start := time.Now()
	rc, err := t.backend.Restore(ctx, t.subdir(), name)
	if err != nil {
		metrics.ObserveTransfer("verify", t.typ(), metrics.OutcomeFailure, 0, time.Since(start))
		return "", 0, err
	}
	defer rc.Close()

	sum, size, err := util.SHA1Stream(&ctxReader{ctx: ctx, r: rc}, destination.ChunkSize)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.ObserveTransfer("verify", t.typ(), outcome, size, time.Since(start))
	return sum, size, err
}

func verdictOf(ok bool) Verification {
	if ok {
		return VerificationPassed
	}
	return VerificationFailed
}

func (o *Orchestrator) dropRecord(ctx context.Context, id string) {
	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	if err := o.store.DeleteBackup(cctx, id); err != nil {
		log.Error().Err(err).Str("action", "rollback").Str("backup", id).Msg("cannot delete backup record")
	}
}

// dropUnreferencedArtifact deletes a committed artifact whose record could
// not be finalized. An upload that replaced a name still held by a successful
// backup is kept: deleting it would leave that backup with nothing to restore.
func (o *Orchestrator) dropUnreferencedArtifact(ctx context.Context, t target, name string) {
	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	prev, err := o.store.FindSuccessfulBackup(cctx, t.origin.ID, t.dest.ID, name)
	switch {
	case err == nil:
		log.Warn().Str("action", "rollback").Str("destination", t.dest.Name).Str("name", name).
			Str("backup", prev.ID).Msg("artifact kept, name still referenced")
		return
	case !errors.Is(err, store.ErrNotFound):
		log.Error().Err(err).Str("action", "rollback").Str("destination", t.dest.Name).
			Str("name", name).Msg("cannot check artifact references, artifact kept")
		return
	}
	if err := t.backend.Delete(cctx, t.subdir(), name); err != nil {
		log.Error().Err(err).Str("action", "rollback").Str("destination", t.dest.Name).
			Str("name", name).Msg("cannot delete artifact")
	}
}

// ctxReader stops a probe between chunks once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
