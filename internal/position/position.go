package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/curbz/wayfinder/internal/model"
	"github.com/curbz/wayfinder/pkg/apimodel"
	"github.com/curbz/wayfinder/pkg/util"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
)

// Geolocation error codes, as sent by the feed
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// PositionError is a failure reported by the position feed.
type PositionError struct {
	Code    int
	Message string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position error %d: %s", e.Code, e.Message)
}

// Unwrap maps the code onto ErrPermissionDenied or ErrPositionUnavailable.
func (e *PositionError) Unwrap() error {
	if e.Code == CodePermissionDenied {
		return ErrPermissionDenied
	}
	return ErrPositionUnavailable
}

func (e *PositionError) Timeout() bool {
	return e.Code == CodeTimeout
}

type (
	SampleFunc func(model.PositionSample)
	ErrorFunc  func(error)
)

// Stream delivers device positions.
type Stream interface {
	Watch(ctx context.Context, onSample SampleFunc, onError ErrorFunc) (Subscription, error)
	Current(ctx context.Context) (model.Coordinate, error)
}

// Subscription is a live watch. Cancel stops delivery and releases the
// connection. It never blocks, so it may be called from inside a callback;
// a callback that is already running is allowed to finish.
type Subscription interface {
	Cancel()
}

// Options are the watch options passed to the feed.
type Options struct {
	HighAccuracy bool
	MaximumAge   time.Duration
	// Timeout is the longest wait for the next position. Zero waits forever.
	Timeout time.Duration
}

type config struct {
	Position struct {
		WebSocketURL string `yaml:"websocket_url" validate:"required,url"`
		HighAccuracy bool   `yaml:"high_accuracy"`
		MaximumAgeMS int    `yaml:"maximum_age_ms" validate:"gte=0"`
		TimeoutMS    int    `yaml:"timeout_ms" validate:"gte=0"`
	} `yaml:"position"`
}

// Client subscribes to a websocket position feed. Every Watch opens its own connection.
type Client struct {
	url    string
	opts   Options
	dialer *websocket.Dialer
}

var requestCounter atomic.Int64

func New(cfgPath string) (*Client, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, fmt.Errorf("error reading position configuration: %w", err)
	}
	pc := cfg.Position
	return NewClient(pc.WebSocketURL, Options{
		HighAccuracy: pc.HighAccuracy,
		MaximumAge:   time.Duration(pc.MaximumAgeMS) * time.Millisecond,
		Timeout:      time.Duration(pc.TimeoutMS) * time.Millisecond,
	}), nil
}

func NewClient(url string, opts Options) *Client {
	return &Client{
		url:    url,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Watch connects to the feed and subscribes. Samples and errors are delivered
// on the connection's read goroutine until the subscription is cancelled or
// ctx is done.
func (c *Client) Watch(ctx context.Context, onSample SampleFunc, onError ErrorFunc) (Subscription, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, &PositionError{Code: CodePositionUnavailable, Message: fmt.Sprintf("could not connect to position feed: %v", err)}
	}

	reqID := requestCounter.Add(1)
	request := apimodel.PositionSubscriptionRequest{
		RequestID: reqID,
		Type:      apimodel.TypePositionSubscribe,
		Params: apimodel.PositionParams{
			HighAccuracy: c.opts.HighAccuracy,
			MaximumAgeMS: c.opts.MaximumAge.Milliseconds(),
			TimeoutMS:    c.opts.Timeout.Milliseconds(),
		},
	}
	if err := util.SendJSON(conn, request); err != nil {
		conn.Close()
		return nil, &PositionError{Code: CodePositionUnavailable, Message: err.Error()}
	}
	log.Debugf("-> Sent Request ID %d: Subscribing to positions", reqID)

	sub := &subscription{
		conn:     conn,
		reqID:    reqID,
		timeout:  c.opts.Timeout,
		onSample: onSample,
		onError:  onError,
		progress: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go sub.listen()
	go sub.watchdog()
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Current returns the first position of a temporary watch.
func (c *Client) Current(ctx context.Context) (model.Coordinate, error) {
	samples := make(chan model.PositionSample, 1)
	errs := make(chan error, 1)

	sub, err := c.Watch(ctx,
		func(s model.PositionSample) {
			select {
			case samples <- s:
			default:
			}
		},
		func(err error) {
			select {
			case errs <- err:
			default:
			}
		})
	if err != nil {
		return model.Coordinate{}, err
	}
	defer sub.Cancel()

	select {
	case s := <-samples:
		return s.Coordinate, nil
	case err := <-errs:
		return model.Coordinate{}, err
	case <-ctx.Done():
		return model.Coordinate{}, &PositionError{Code: CodeTimeout, Message: ctx.Err().Error()}
	}
}

type subscription struct {
	conn     *websocket.Conn
	reqID    int64
	timeout  time.Duration
	onSample SampleFunc
	onError  ErrorFunc
	progress chan struct{}

	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		// WriteControl and Close are safe alongside the reader
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
		log.Debugf("Position subscription %d cancelled", s.reqID)
	})
}

func (s *subscription) listen() {
	defer close(s.done)
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if s.cancelled.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Println("Position feed closed.")
				s.fail(&PositionError{Code: CodePositionUnavailable, Message: "position feed closed"})
				return
			}
			log.Println("Position feed read error:", err)
			s.fail(&PositionError{Code: CodePositionUnavailable, Message: err.Error()})
			return
		}
		s.processMessage(message)
	}
}

// watchdog reports a timeout each time the feed goes s.timeout without a
// position. The connection stays open, so a later position resumes the watch.
func (s *subscription) watchdog() {
	if s.timeout <= 0 {
		return
	}
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.progress:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.timeout)
		case <-timer.C:
			log.Debugf("Position subscription %d: no position within %s", s.reqID, s.timeout)
			s.fail(&PositionError{Code: CodeTimeout, Message: fmt.Sprintf("no position within %s", s.timeout)})
			timer.Reset(s.timeout)
		}
	}
}

func (s *subscription) processMessage(message []byte) {
	var msg apimodel.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("Error unmarshaling position message: %v. Raw: %s", err, string(message))
		return
	}

	switch msg.Type {
	case apimodel.TypePositionUpdate:
		var update apimodel.PositionUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			log.Printf("Error decoding position update: %v", err)
			return
		}
		sample := model.PositionSample{
			Coordinate: model.Coordinate{Lat: update.Lat, Lng: update.Lng},
			Timestamp:  time.UnixMilli(update.Timestamp),
		}
		if !sample.Coordinate.IsFinite() {
			log.Warnf("Ignoring non-finite position %v", sample.Coordinate)
			return
		}
		select {
		case s.progress <- struct{}{}:
		default:
		}
		if !s.cancelled.Load() {
			s.onSample(sample)
		}
	case apimodel.TypeError:
		var payload apimodel.ErrorPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Printf("Error decoding position error: %v", err)
			payload = apimodel.ErrorPayload{Code: CodePositionUnavailable, Message: string(msg.Data)}
		}
		s.fail(&PositionError{Code: payload.Code, Message: payload.Message})
	case apimodel.TypeResult:
		if msg.Success {
			log.Debugf("<- Received Response ID %d: Success", msg.RequestID)
		} else {
			log.Printf("<- Received Response ID %d: Failure", msg.RequestID)
			s.fail(&PositionError{Code: CodePositionUnavailable, Message: "subscription rejected"})
		}
	default:
		log.Printf("[UNKNOWN] Req ID %d, Type: %s, Payload: %s", msg.RequestID, msg.Type, string(message))
	}
}

func (s *subscription) fail(err *PositionError) {
	if s.cancelled.Load() || s.onError == nil {
		return
	}
	s.onError(err)
}
