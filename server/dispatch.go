package server

import (
	"sort"

	"github.com/lumastream/luma/codec"
	"github.com/lumastream/luma/engine"
	luerr "github.com/lumastream/luma/errors"
	"github.com/lumastream/luma/model"
	"github.com/lumastream/luma/protocol"
	"github.com/lumastream/luma/render"
)

// dispatch routes one inbound envelope by type. Unknown types are logged
// and ignored; they never terminate the session.
func (s *Session) dispatch(msg *protocol.Inbound) {
	switch msg.Type {
	case protocol.TypeFrame:
		s.handleFrame(msg)
	case protocol.TypeChangeMode:
		s.handleChangeMode(msg)
	case protocol.TypeUpdateViz:
		s.handleUpdateViz(msg)
	case protocol.TypeGetStats:
		s.handleGetStats()
	default:
		s.log.Debugw("Unknown message type, ignoring", "type", msg.Type)
	}
}

// handleFrame runs the full frame path: admission → decode → predict →
// render → encode → reply. Every outcome for an admitted frame, success or
// error, is exactly one frameReply so the in-flight count settles.
func (s *Session) handleFrame(msg *protocol.Inbound) {
	if !s.pipe.Admit() {
		// Dropped by flow control: counted, not reported. Normal overload
		// behavior, not an error.
		return
	}

	raw, err := protocol.DecodeFrameData(msg.Data)
	if err != nil {
		s.sendError(protocol.ErrMalformedFrame, err, true)
		return
	}
	img, err := codec.Decode(raw)
	if err != nil {
		s.sendError(protocol.ErrMalformedFrame, err, true)
		return
	}
	frame := &codec.Frame{Image: img, TimestampMS: msg.Timestamp}

	cm, meta, err := s.engine.Predict(s.gw.ctx, frame)
	if err != nil {
		if engine.IsResourceExhausted(err) {
			s.sendError(protocol.ErrOutOfMemory, err, true)
		} else {
			s.sendError(protocol.ErrInferenceFailed, err, true)
		}
		return
	}

	rendered, err := s.renderer.Render(img, cm, render.Settings{
		Mode:    s.vizMode,
		Opacity: s.opacity,
		Filter:  s.filter,
	})
	if err != nil {
		s.sendError(protocol.ErrInferenceFailed, err, true)
		return
	}

	reply := codec.FitWithin(rendered, s.gw.cfg.Reply.MaxWidth, s.gw.cfg.Reply.MaxHeight)
	data, err := codec.Encode(reply, s.gw.ReplyQuality())
	if err != nil {
		s.sendError(protocol.ErrEncodeFailed, err, true)
		return
	}

	s.trySend(&protocol.SegmentationMessage{
		Type: protocol.TypeSegmentation,
		Data: protocol.EncodeFrameData(data),
		Metadata: protocol.SegmentationMetadata{
			InferenceTimeMS: meta.InferenceTimeMS,
			FPS:             meta.AvgFPS,
			ModelMode:       meta.Mode.String(),
			DetectedClasses: s.detectedClasses(cm, meta.Mode),
			Timestamp:       frame.TimestampMS,
		},
	}, true)
}

// detectedClasses names the non-background classes present in the map.
func (s *Session) detectedClasses(cm *codec.ClassMap, mode model.Mode) []string {
	vocab := mode.Vocabulary()
	names := make([]string, 0, 8)
	for _, idx := range cm.Classes() {
		if idx == 0 {
			continue // background
		}
		if name := vocab.Label(idx); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// handleChangeMode switches the model mode. Switching to the active mode is
// a no-op that still confirms — clients treat mode_changed as the ack.
func (s *Session) handleChangeMode(msg *protocol.Inbound) {
	mode, err := model.ParseMode(msg.ModelMode)
	if err != nil {
		s.sendError(protocol.ErrModeChangeFailed, err, false)
		return
	}

	if err := s.engine.SetMode(s.gw.ctx, mode); err != nil {
		s.sendError(protocol.ErrModeChangeFailed, err, false)
		return
	}
	if err := s.engine.WarmUp(s.gw.ctx, false); err != nil {
		s.sendError(protocol.ErrModeChangeFailed, err, false)
		return
	}
	s.renderer.SetPalette(mode.Vocabulary().Palette())

	s.log.Infow("Mode changed", "mode", mode.String())
	s.trySend(&protocol.ModeChangedMessage{
		Type:        protocol.TypeModeChanged,
		ModelMode:   mode.String(),
		ClassLabels: mode.Vocabulary().Labels(),
	}, false)
}

// handleUpdateViz applies any subset of {visualization_mode, overlay_opacity,
// class_filter}. Opacity clamps to [0,1]; out-of-range filter indices drop
// silently. Applying the same settings twice is a no-op by construction.
func (s *Session) handleUpdateViz(msg *protocol.Inbound) {
	if msg.Settings == nil {
		s.sendError(protocol.ErrVizUpdateFailed, luerr.New("update_viz carried no settings"), false)
		return
	}
	settings := msg.Settings

	if settings.VisualizationMode != nil {
		mode, err := render.ParseMode(*settings.VisualizationMode)
		if err != nil {
			s.sendError(protocol.ErrVizUpdateFailed, err, false)
			return
		}
		s.vizMode = mode
	}

	if settings.OverlayOpacity != nil {
		s.opacity = clamp01(*settings.OverlayOpacity)
	}

	state, indices, err := settings.ParseClassFilter()
	if err != nil {
		s.sendError(protocol.ErrVizUpdateFailed, err, false)
		return
	}
	switch state {
	case protocol.FilterAbsent:
		// keep current filter
	case protocol.FilterCleared:
		s.filter = nil
	case protocol.FilterSet:
		numClasses := s.engine.Mode().NumClasses()
		filter := make(map[int]bool, len(indices))
		for _, idx := range indices {
			if idx >= 0 && idx < numClasses {
				filter[idx] = true
			}
		}
		s.filter = filter
	}

	s.trySend(&protocol.VizUpdatedMessage{
		Type:     protocol.TypeVizUpdated,
		Settings: s.vizEcho(),
	}, false)
}

// vizEcho reports the settings that actually took effect.
func (s *Session) vizEcho() protocol.VizEcho {
	echo := protocol.VizEcho{
		VisualizationMode: s.vizMode.String(),
		OverlayOpacity:    s.opacity,
	}
	if s.filter != nil {
		indices := make([]int, 0, len(s.filter))
		for idx := range s.filter {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		echo.ClassFilter = indices
	}
	return echo
}

// handleGetStats reports the session's rolling statistics.
func (s *Session) handleGetStats() {
	snap := s.engine.Stats()
	s.trySend(&protocol.StatsMessage{
		Type:            protocol.TypeStats,
		FPS:             snap.AvgFPS,
		AvgInferenceMS:  snap.AvgInferenceMS,
		FramesInFlight:  s.pipe.InFlight(),
		FramesDropped:   s.pipe.Dropped(),
		FramesProcessed: snap.FramesProcessed,
	}, false)
}

// sendError emits the uniform error envelope. frameReply settles an
// admitted frame's in-flight slot. If the error itself cannot be sent, the
// failure is swallowed — never cascade an error while closing.
func (s *Session) sendError(code protocol.ErrorCode, err error, frameReply bool) {
	s.log.Warnw("Request failed",
		"code", string(code),
		"error", err,
	)
	s.trySend(protocol.NewError(code, err.Error()), frameReply)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
