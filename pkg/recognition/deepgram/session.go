// Package deepgram implements the recognition session on Deepgram's live
// transcription websocket API.
package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
	"github.com/harunnryd/larung/pkg/recognition"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// ProviderConfig carries the vendor-specific knobs on top of the
// vendor-agnostic session config.
type ProviderConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Encoding       string `mapstructure:"encoding"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
}

func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.UtteranceEndMS == 0 {
		c.UtteranceEndMS = 1000
	}
	return c
}

// Session is a recognition.Session backed by one Deepgram live connection.
type Session struct {
	cfg    recognition.Config
	pcfg   ProviderConfig
	out    chan recognition.Result
	logger *slog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	dgClient   *client.WSCallback
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// NewFactory returns a recognition.Factory bound to vendor settings.
func NewFactory(pcfg ProviderConfig, logger *slog.Logger) recognition.Factory {
	pcfg = pcfg.withDefaults()
	return func(cfg recognition.Config) recognition.Session {
		return &Session{
			cfg:       cfg,
			pcfg:      pcfg,
			out:       make(chan recognition.Result, 256),
			logger:    logging.NewComponentLogger(logger, "deepgram_session"),
			sessionID: cfg.PriorSessionID,
		}
	}
}

// liveOptions maps the session config onto Deepgram's streaming options.
// Both channels are transcribed independently so results carry the channel
// index the mixer assigned to each party.
func (s *Session) liveOptions() *interfaces.LiveTranscriptionOptions {
	opts := &interfaces.LiveTranscriptionOptions{
		Model:          s.pcfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.pcfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		Channels:       2,
		Multichannel:   true,
		InterimResults: s.cfg.Interim,
		SmartFormat:    true,
		Keywords:       s.cfg.Vocabulary,
	}
	if s.pcfg.UtteranceEndMS > 0 {
		opts.UtteranceEndMs = fmt.Sprintf("%d", s.pcfg.UtteranceEndMS)
	}
	return opts
}

func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := s.liveOptions()

	s.logger.Info("initializing deepgram connection",
		slog.String("call_id", s.cfg.CallID),
		slog.String("model", s.pcfg.Model),
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.String("prior_session_id", s.cfg.PriorSessionID))

	cb := &callback{parent: s}
	dgClient, err := client.NewWSUsingCallback(s.ctx, s.pcfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		s.logger.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("call_id", s.cfg.CallID))
		return err
	}
	s.dgClient = dgClient

	if connected := s.dgClient.Connect(); !connected {
		s.logger.Error("deepgram_connect_failed",
			slog.String("call_id", s.cfg.CallID))
		return fmt.Errorf("deepgram connection failed")
	}

	go func() {
		if err := s.dgClient.Stream(s.pipeReader); err != nil && s.ctx.Err() == nil {
			s.logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("call_id", s.cfg.CallID))
		}
	}()
	return nil
}

// SessionID returns the prior session id when this work unit continues an
// earlier one, otherwise the request id Deepgram assigned on connect.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) SendAudio(pcm []byte) error {
	if s.pipeWriter == nil {
		return fmt.Errorf("not started")
	}
	_, err := s.pipeWriter.Write(pcm)
	return err
}

func (s *Session) FinishAudio() error {
	if s.pipeWriter == nil {
		return fmt.Errorf("not started")
	}
	return s.pipeWriter.Close()
}

func (s *Session) Results() <-chan recognition.Result { return s.out }

func (s *Session) Close() error {
	s.logger.Info("closing deepgram connection",
		slog.String("call_id", s.cfg.CallID))
	if s.cancel != nil {
		s.cancel()
	}
	if s.pipeWriter != nil {
		_ = s.pipeWriter.Close()
	}
	if s.dgClient != nil {
		s.dgClient.Stop()
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) emit(res recognition.Result) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	select {
	case s.out <- res:
	default:
		s.logger.Warn("result channel full, dropping result",
			slog.String("call_id", s.cfg.CallID))
	}
}

func (s *Session) roleFor(channelIndex int) media.Role {
	if role, ok := s.cfg.ChannelRoles[channelIndex]; ok {
		return role
	}
	return media.RoleCaller
}

// --- callback implementation ---

type callback struct {
	parent *Session
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened",
		slog.String("call_id", c.parent.cfg.CallID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}

	chIdx := 0
	if len(mr.ChannelIndex) > 0 {
		chIdx = mr.ChannelIndex[0]
	}
	start := time.Duration(mr.Start * float64(time.Second))
	end := start + time.Duration(mr.Duration*float64(time.Second))

	c.parent.emit(recognition.Transcript{
		Channel:   c.parent.roleFor(chIdx),
		SegmentID: fmt.Sprintf("ch%d-%.2f", chIdx, mr.Start),
		Start:     start,
		End:       end,
		Text:      alt.Transcript,
		IsFinal:   mr.IsFinal || mr.SpeechFinal,
	})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.mu.Lock()
	if c.parent.sessionID == "" {
		c.parent.sessionID = md.RequestID
	}
	id := c.parent.sessionID
	c.parent.mu.Unlock()

	c.parent.logger.Info("deepgram_metadata_received",
		slog.String("call_id", c.parent.cfg.CallID),
		slog.String("request_id", md.RequestID))
	c.parent.emit(recognition.SessionMeta{SessionID: id})
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	chIdx := 0
	if len(ur.Channel) > 0 {
		chIdx = ur.Channel[0]
	}
	c.parent.emit(recognition.UtteranceEnd{
		Channel: c.parent.roleFor(chIdx),
		At:      time.Duration(ur.LastWordEnd * float64(time.Second)),
	})
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed",
		slog.String("call_id", c.parent.cfg.CallID))
	c.parent.mu.Lock()
	if !c.parent.closed {
		c.parent.closed = true
		close(c.parent.out)
	}
	c.parent.mu.Unlock()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("call_id", c.parent.cfg.CallID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("call_id", c.parent.cfg.CallID))
	return nil
}

var _ recognition.Session = (*Session)(nil)
