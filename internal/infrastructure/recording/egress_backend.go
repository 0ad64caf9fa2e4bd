package recording

import (
	"context"
	"errors"
	"net"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
	"roomrec/pkg/tracing"
	"roomrec/pkg/utils"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"go.uber.org/zap"
)

// EgressAPI is the subset of *lksdk.EgressClient used for recording.
type EgressAPI interface {
	StartRoomCompositeEgress(ctx context.Context, req *livekit.RoomCompositeEgressRequest) (*livekit.EgressInfo, error)
	StopEgress(ctx context.Context, req *livekit.StopEgressRequest) (*livekit.EgressInfo, error)
}

type EgressBackendConfig struct {
	FilePrefix string
	Layout     string
	AudioOnly  bool
}

// EgressBackend records rooms with LiveKit room composite egress to MP4 files.
type EgressBackend struct {
	api    EgressAPI
	cfg    EgressBackendConfig
	now    func() time.Time
	logger *zap.SugaredLogger
}

var _ ports.RecordingBackend = (*EgressBackend)(nil)

func NewEgressClient(url, apiKey, apiSecret string) EgressAPI {
	return lksdk.NewEgressClient(url, apiKey, apiSecret)
}

func NewEgressBackend(api EgressAPI, cfg EgressBackendConfig, logger *zap.SugaredLogger) *EgressBackend {
	if cfg.Layout == "" {
		cfg.Layout = "speaker"
	}
	return &EgressBackend{api: api, cfg: cfg, now: time.Now, logger: logger}
}

func (b *EgressBackend) RequestStart(ctx context.Context, key domain.SessionKey) (_ domain.JobID, err error) {
	ctx, span := tracing.TraceBackendRequest(ctx, "egress", opStart, key.RoomName, "")
	defer func() { tracing.End(span, err) }()

	filepath := utils.RecordingFilepath(b.cfg.FilePrefix, key.RoomName, b.now())
	info, err := b.api.StartRoomCompositeEgress(ctx, &livekit.RoomCompositeEgressRequest{
		RoomName:  key.RoomName,
		Layout:    b.cfg.Layout,
		AudioOnly: b.cfg.AudioOnly,
		FileOutputs: []*livekit.EncodedFileOutput{{
			FileType: livekit.EncodedFileType_MP4,
			Filepath: filepath,
		}},
	})
	if err != nil {
		return "", classifyEgressError(ctx, opStart, err)
	}
	if info.GetEgressId() == "" {
		return "", domain.Rejected(opStart, 0, "egress info has no id")
	}

	b.logger.Infow("Egress started",
		"room", key.RoomName,
		"job_id", info.GetEgressId(),
		"filepath", filepath,
	)
	return domain.JobID(info.GetEgressId()), nil
}

func (b *EgressBackend) RequestStop(ctx context.Context, jobID domain.JobID) (err error) {
	ctx, span := tracing.TraceBackendRequest(ctx, "egress", opStop, "", string(jobID))
	defer func() { tracing.End(span, err) }()

	info, err := b.api.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: string(jobID)})
	if err != nil {
		return classifyEgressError(ctx, opStop, err)
	}
	b.logger.Infow("Egress stopped", "job_id", jobID, "status", info.GetStatus().String())
	return nil
}

// serverError matches twirp errors, which carry a server supplied message.
type serverError interface {
	error
	Msg() string
}

func classifyEgressError(ctx context.Context, op string, err error) *domain.BackendError {
	var netErr net.Error
	switch {
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return domain.Unreachable(op, err)
	}
	var se serverError
	if errors.As(err, &se) {
		return domain.Rejected(op, 0, se.Msg())
	}
	return domain.Unreachable(op, err)
}
