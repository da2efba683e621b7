package session

import (
	"github.com/gwlsn/tqenc/internal/encoder"
	"github.com/gwlsn/tqenc/internal/logger"
	"github.com/gwlsn/tqenc/internal/store"
)

// recorder writes session history. A nil recorder records nothing, and
// store failures are logged rather than returned.
type recorder struct {
	st store.Store
	id string
}

func startRecorder(st store.Store, opts *Options) *recorder {
	if st == nil {
		return nil
	}
	sess := &store.Session{
		InputPath:  opts.InputPath,
		OutputPath: opts.OutputPath,
		TwoPass:    opts.TwoPass,
		ForcedQI:   -1,
	}
	switch m := opts.Mode.(type) {
	case encoder.Forced:
		sess.ForcedQI = m.QI
	case encoder.Targeted:
		sess.Target = m.Score
	}
	if err := st.CreateSession(sess); err != nil {
		logger.Warn("Failed to record session", "error", err)
		return nil
	}
	logger.Debug("Recording session history", "session", sess.ID)
	return &recorder{st: st, id: sess.ID}
}

func (r *recorder) sessionID() string {
	if r == nil {
		return ""
	}
	return r.id
}

func frameRecord(pass int, res *encoder.FrameResult) store.FrameRecord {
	return store.FrameRecord{
		Pass:       pass,
		FrameIndex: res.Index,
		QI:         res.QI,
		Score:      res.Score,
		Trials:     res.Trials,
		Converged:  res.Converged,
		Bytes:      len(res.Payload),
	}
}

func (r *recorder) frame(pass int, res *encoder.FrameResult) {
	if r == nil {
		return
	}
	f := frameRecord(pass, res)
	f.SessionID = r.id
	if err := r.st.RecordFrame(f); err != nil {
		logger.Warn("Failed to record frame", "frame", res.Index, "error", err)
	}
}

// frames records a whole pass in one transaction.
func (r *recorder) frames(records []store.FrameRecord) {
	if r == nil || len(records) == 0 {
		return
	}
	for i := range records {
		records[i].SessionID = r.id
	}
	if err := r.st.RecordFrames(records); err != nil {
		logger.Warn("Failed to record pass", "frames", len(records), "error", err)
	}
}

func (r *recorder) finish(frames int, err error) {
	if r == nil {
		return
	}
	status, msg := store.StatusComplete, ""
	if err != nil {
		status, msg = store.StatusFailed, err.Error()
	}
	if ferr := r.st.FinishSession(r.id, status, frames, msg); ferr != nil {
		logger.Warn("Failed to finish session record", "session", r.id, "error", ferr)
	}
}
