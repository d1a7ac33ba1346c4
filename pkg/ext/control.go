package ext

import (
	"context"
	"encoding/json"

	"github.com/cuemby/syncbase/pkg/metrics"
	"github.com/cuemby/syncbase/pkg/syncengine"
	"github.com/cuemby/syncbase/pkg/syncerr"
)

// Control implements powersync_control(op, payload) (spec.md §6, §4.7):
// dispatch one host event to engine and return the resulting instructions
// as a JSON array of externally tagged variants.
func Control(ctx context.Context, engine *syncengine.Engine, op string, payload []byte) (string, error) {
	timer := metrics.NewTimer()
	var (
		outs []syncengine.Output
		err  error
	)
	switch op {
	case "start":
		outs, err = engine.HandleInitialize(ctx)
	case "stop":
		outs = engine.HandleTearDown(ctx)
	case "refreshed_token":
		outs = engine.HandleDidRefreshToken(ctx)
	case "completed_upload":
		outs, err = engine.HandleUploadFinished(ctx)
	case "line_text":
		outs, err = engine.HandleTextLine(ctx, payload)
	case "line_binary":
		outs, err = engine.HandleBinaryLine(ctx, payload)
	default:
		metrics.ControlOpsTotal.WithLabelValues(op, "error").Inc()
		return "", syncerr.Argumentf("powersync_control: unknown op %q", op)
	}
	timer.ObserveDurationVec(metrics.ControlOpDuration, op)
	if err != nil {
		metrics.ControlOpsTotal.WithLabelValues(op, "error").Inc()
		if op == "completed_upload" {
			metrics.CRUDUploadsTotal.WithLabelValues("error").Inc()
		}
		return "", err
	}
	metrics.ControlOpsTotal.WithLabelValues(op, "ok").Inc()
	if op == "completed_upload" {
		metrics.CRUDUploadsTotal.WithLabelValues("ok").Inc()
	}
	return encodeInstructions(outs)
}

// instruction is the wire shape of one Output: an externally tagged union
// keyed by the variant name spec.md §4.7 gives each output kind.
type instruction struct {
	LogLine             *logLineInstruction   `json:"LogLine,omitempty"`
	UpdateSyncStatus    *statusInstruction    `json:"UpdateSyncStatus,omitempty"`
	EstablishSyncStream *streamInstruction    `json:"EstablishSyncStream,omitempty"`
	FetchCredentials    *credentialsInstruction `json:"FetchCredentials,omitempty"`
	CloseSyncStream     *struct{}             `json:"CloseSyncStream,omitempty"`
	FlushFileSystem     *struct{}             `json:"FlushFileSystem,omitempty"`
	DidCompleteSync     *struct{}             `json:"DidCompleteSync,omitempty"`
}

type logLineInstruction struct {
	Severity string `json:"severity"`
	Line     string `json:"line"`
}

type statusInstruction struct {
	Connected      bool                     `json:"connected"`
	Connecting     bool                     `json:"connecting"`
	PriorityStatus []priorityStatusWire     `json:"priority_status"`
	Downloading    *downloadProgressWire    `json:"downloading,omitempty"`
}

type priorityStatusWire struct {
	Priority     int32  `json:"priority"`
	LastSyncedAt int64  `json:"last_synced_at"`
	HasSynced    bool   `json:"has_synced"`
}

type downloadProgressWire struct {
	TargetCount int64 `json:"target_count"`
	AtLast      int64 `json:"at_last"`
	SinceLast   int64 `json:"since_last"`
}

type streamInstruction struct {
	Buckets         []string       `json:"buckets"`
	ClientID        string         `json:"client_id"`
	Parameters      map[string]any `json:"parameters"`
	IncludeChecksum bool           `json:"include_checksum"`
	RawData         bool           `json:"raw_data"`
	BinaryData      bool           `json:"binary_data"`
}

type credentialsInstruction struct {
	DidExpire bool `json:"did_expire"`
}

func encodeInstructions(outs []syncengine.Output) (string, error) {
	wire := make([]instruction, 0, len(outs))
	for _, o := range outs {
		wire = append(wire, encodeInstruction(o))
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindInternal, "encode control instructions", err)
	}
	return string(b), nil
}

func encodeInstruction(o syncengine.Output) instruction {
	switch o.Kind {
	case syncengine.OutputLogLine:
		return instruction{LogLine: &logLineInstruction{Severity: string(o.LogLevel), Line: o.LogMessage}}
	case syncengine.OutputUpdateSyncStatus:
		return instruction{UpdateSyncStatus: encodeStatus(o.Status)}
	case syncengine.OutputEstablishSyncStream:
		return instruction{EstablishSyncStream: &streamInstruction{
			Buckets:         o.Request.Buckets,
			ClientID:        o.Request.ClientID,
			Parameters:      o.Request.Parameters,
			IncludeChecksum: o.Request.IncludeChecksum,
			RawData:         o.Request.RawData,
			BinaryData:      o.Request.BinaryData,
		}}
	case syncengine.OutputFetchCredentials:
		return instruction{FetchCredentials: &credentialsInstruction{DidExpire: o.DidExpire}}
	case syncengine.OutputCloseSyncStream:
		return instruction{CloseSyncStream: &struct{}{}}
	case syncengine.OutputFlushFileSystem:
		return instruction{FlushFileSystem: &struct{}{}}
	case syncengine.OutputDidCompleteSync:
		return instruction{DidCompleteSync: &struct{}{}}
	default:
		return instruction{}
	}
}

func encodeStatus(s *syncengine.Status) *statusInstruction {
	if s == nil {
		return nil
	}
	out := &statusInstruction{Connected: s.Connected, Connecting: s.Connecting}
	for _, ps := range s.PriorityStatus {
		out.PriorityStatus = append(out.PriorityStatus, priorityStatusWire{
			Priority:     int32(ps.Priority),
			LastSyncedAt: ps.LastSyncedAt.Unix(),
			HasSynced:    ps.HasSynced,
		})
	}
	if s.Downloading != nil {
		out.Downloading = &downloadProgressWire{
			TargetCount: s.Downloading.TargetCount,
			AtLast:      s.Downloading.AtLast,
			SinceLast:   s.Downloading.SinceLast,
		}
	}
	return out
}
