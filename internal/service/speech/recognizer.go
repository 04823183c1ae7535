// Package speech implements speech-to-text against the Volcengine big-model
// ASR websocket API.
package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultEndpoint   = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	defaultResourceID = "volc.bigasr.sauc.duration"
	defaultLanguage   = "en-US"
	defaultFormat     = "wav"

	// 16 kHz, 16 bit, mono: 6400 bytes is 200ms of audio
	chunkSize = 6400

	successCode = 20000000
)

var ErrMissingCredentials = errors.New("speech app id or access token missing")

// Config describes how to reach the ASR service.
type Config struct {
	AppID       string
	AccessToken string
	Endpoint    string
	ResourceID  string
	Model       string
	Timeout     time.Duration
	// ChunkInterval paces audio chunks; zero uses the realtime pace.
	ChunkInterval time.Duration
}

// Recognizer turns one recorded utterance into text.
type Recognizer struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewRecognizer validates credentials and applies defaults.
func NewRecognizer(cfg Config) (*Recognizer, error) {
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	if cfg.AppID == "" || cfg.AccessToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = defaultResourceID
	}
	if cfg.Model == "" {
		cfg.Model = "bigmodel"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = 200 * time.Millisecond
	}
	return &Recognizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text     string `json:"text"`
			Definite bool   `json:"definite"`
		} `json:"utterances,omitempty"`
	} `json:"result"`
}

// Recognize sends audio and waits for the final transcript. Only the final
// result is returned; interim results are discarded.
func (r *Recognizer) Recognize(ctx context.Context, audio []byte, format, language string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("no audio data to send")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", r.cfg.AppID)
	header.Set("X-Api-Access-Key", r.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", r.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := r.dialer.DialContext(ctx, r.cfg.Endpoint, header)
	if err != nil {
		return "", fmt.Errorf("failed to connect to ASR websocket: %w", err)
	}
	defer conn.Close()
	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[ASR] connected logid=%s", logid)
	}

	// unblock reads when ctx ends
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	payload, err := json.Marshal(r.buildRequest(connectID, format, language))
	if err != nil {
		return "", fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	if err := writeFrame(conn, RequestFrame(payload)); err != nil {
		return "", fmt.Errorf("failed to send ASR request: %w", err)
	}

	sendErr := make(chan error, 1)
	go func() { sendErr <- r.sendAudio(ctx, conn, audio) }()

	text, err := r.receive(conn)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	select {
	case err := <-sendErr:
		if err != nil && ctx.Err() == nil {
			log.Printf("[ASR] audio send finished with error after final result: %v", err)
		}
	default:
	}
	return text, nil
}

func (r *Recognizer) buildRequest(uid, format, language string) asrRequest {
	var req asrRequest
	req.User.UID = uid

	req.Audio.Format = format
	if req.Audio.Format == "" {
		req.Audio.Format = defaultFormat
	}
	req.Audio.Language = language
	if req.Audio.Language == "" {
		req.Audio.Language = defaultLanguage
	}
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = r.cfg.Model
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

func (r *Recognizer) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(2) // the request frame takes sequence 1
	for i := 0; i < len(audio); i += chunkSize {
		end := i + chunkSize
		if end > len(audio) {
			end = len(audio)
		}
		last := end >= len(audio)

		if err := writeFrame(conn, AudioFrame(audio[i:end], sequence, last)); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
		sequence++
		if last {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.ChunkInterval):
		}
	}
	return nil
}

func (r *Recognizer) receive(conn *websocket.Conn) (string, error) {
	var final string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("failed to read ASR response: %w", err)
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			return "", fmt.Errorf("failed to decode ASR message: %w", err)
		}

		switch frame.Header.Type {
		case ErrorMessage:
			payload, _ := Decompress(frame.Payload, frame.Header.Compression)
			return "", fmt.Errorf("ASR error %d: %s", frame.ErrorCode, string(payload))

		case FullServerResponse:
			payload, err := Decompress(frame.Payload, frame.Header.Compression)
			if err != nil {
				return "", fmt.Errorf("failed to decompress ASR payload: %w", err)
			}
			var resp asrResponse
			if err := json.Unmarshal(payload, &resp); err != nil {
				log.Printf("[ASR] failed to unmarshal response: %v", err)
				continue
			}
			if resp.Code != 0 && resp.Code != successCode {
				return "", fmt.Errorf("ASR API error %d: %s", resp.Code, resp.Message)
			}
			if text := transcriptOf(resp); text != "" {
				final = text
			}
			if frame.IsLast() {
				return final, nil
			}
		}
	}
}

func transcriptOf(resp asrResponse) string {
	if text := strings.TrimSpace(resp.Result.Text); text != "" {
		return text
	}
	parts := make([]string, 0, len(resp.Result.Utterances))
	for _, u := range resp.Result.Utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func writeFrame(conn *websocket.Conn, frame *Frame) error {
	compressed, err := Compress(frame.Payload, frame.Header.Compression)
	if err != nil {
		return err
	}
	out := *frame
	out.Payload = compressed
	return conn.WriteMessage(websocket.BinaryMessage, out.Encode())
}
