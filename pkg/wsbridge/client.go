package wsbridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/hanfei1991/batcher/lib/config"
	"github.com/hanfei1991/batcher/model"
	derrors "github.com/hanfei1991/batcher/pkg/errors"
	"github.com/hanfei1991/batcher/pkg/hostapi"
)

// Client talks to the bridge script running inside the game. Calls may be
// issued concurrently; responses are matched to calls by request id.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending map[string]chan *Response

	closeOnce sync.Once
	wg        sync.WaitGroup
}

var (
	_ hostapi.Host                 = (*Client)(nil)
	_ hostapi.Surveyor             = (*Client)(nil)
	_ hostapi.Timer                = (*Client)(nil)
	_ hostapi.CostProvider         = (*Client)(nil)
	_ hostapi.DefenseModelProvider = (*Client)(nil)
)

// Dial connects to the bridge, retrying with exponential backoff until
// MaxDialElapsed passes or ctx ends.
func Dial(ctx context.Context, cfg config.BridgeConfig) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout.Duration}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = cfg.MaxDialElapsed.Duration

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		c, _, err := dialer.DialContext(ctx, cfg.URL, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.L().Warn("dial bridge failed, will retry",
			zap.String("url", cfg.URL),
			zap.Duration("next", next),
			zap.Error(err))
	})
	if err != nil {
		return nil, errors.Annotatef(err, "dial bridge %s", cfg.URL)
	}
	log.L().Info("bridge connected", zap.String("url", cfg.URL))
	return NewClient(conn, cfg.RequestTimeout.Duration), nil
}

// NewClient wraps an established connection.
func NewClient(conn *websocket.Conn, timeout time.Duration) *Client {
	c := &Client{
		conn:    conn,
		timeout: timeout,
		pending: make(map[string]chan *Response),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		resp := &Response{}
		if err := json.Unmarshal(msg, resp); err != nil {
			log.L().Warn("drop malformed bridge response", zap.Error(err))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// shutdown fails every pending call.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		log.L().Info("bridge connection closed", zap.Error(err))
	}
}

// Close closes the connection and waits for the reader to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.wg.Wait()
	})
	return errors.Trace(err)
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Trace(err)
	}
	req := Request{ID: uuid.New().String(), Method: method, Params: raw}
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Trace(err)
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return derrors.ErrBridgeClosed.GenWithStackByArgs()
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return errors.Trace(err)
	}

	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return derrors.ErrBridgeClosed.GenWithStackByArgs()
		}
		if resp.Error != "" {
			return derrors.ErrBridgeRemote.GenWithStackByArgs(method, resp.Error)
		}
		if result == nil {
			return nil
		}
		return errors.Trace(json.Unmarshal(resp.Result, result))
	}
}

// ListHosts implements hostapi.Inventory.
func (c *Client) ListHosts(ctx context.Context) (model.HostSnapshot, error) {
	var hosts model.HostSnapshot
	err := c.call(ctx, MethodListHosts, struct{}{}, &hosts)
	return hosts, err
}

// FreeCapacity implements hostapi.Inventory.
func (c *Client) FreeCapacity(ctx context.Context, host model.HostID) (model.CapacityUnit, error) {
	var free model.CapacityUnit
	err := c.call(ctx, MethodFreeCapacity, hostParams{Host: host}, &free)
	return free, err
}

// HackThreadsForValue implements hostapi.Simulation.
func (c *Client) HackThreadsForValue(ctx context.Context, target model.TargetID, value float64) (float64, error) {
	var threads float64
	err := c.call(ctx, MethodHackThreads, hackParams{Target: target, Value: value}, &threads)
	return threads, err
}

// GrowThreadsForFactor implements hostapi.Simulation.
func (c *Client) GrowThreadsForFactor(ctx context.Context, target model.TargetID, factor float64, cores int) (float64, error) {
	var threads float64
	err := c.call(ctx, MethodGrowThreads, growParams{Target: target, Factor: factor, Cores: cores}, &threads)
	return threads, err
}

func (c *Client) targetFloat(ctx context.Context, method string, target model.TargetID) (float64, error) {
	var v float64
	err := c.call(ctx, method, targetParams{Target: target}, &v)
	return v, err
}

// CurrentDefense implements hostapi.Simulation.
func (c *Client) CurrentDefense(ctx context.Context, target model.TargetID) (float64, error) {
	return c.targetFloat(ctx, MethodDefense, target)
}

// MinDefense implements hostapi.Simulation.
func (c *Client) MinDefense(ctx context.Context, target model.TargetID) (float64, error) {
	return c.targetFloat(ctx, MethodMinDefense, target)
}

// MaxValue implements hostapi.Simulation.
func (c *Client) MaxValue(ctx context.Context, target model.TargetID) (float64, error) {
	return c.targetFloat(ctx, MethodMaxValue, target)
}

// CurrentValue implements hostapi.Simulation.
func (c *Client) CurrentValue(ctx context.Context, target model.TargetID) (float64, error) {
	return c.targetFloat(ctx, MethodCurrentValue, target)
}

// Cores implements hostapi.Simulation.
func (c *Client) Cores(ctx context.Context, target model.TargetID) (int, error) {
	var cores int
	err := c.call(ctx, MethodCores, targetParams{Target: target}, &cores)
	return cores, err
}

// Launch implements hostapi.Execution.
func (c *Client) Launch(ctx context.Context, req hostapi.LaunchRequest) (model.ProcessID, error) {
	var ret launchResult
	err := c.call(ctx, MethodLaunch, launchParams{
		Host:    req.Host,
		Kind:    req.Kind,
		Threads: req.Threads,
		Target:  req.Args.Target,
		DelayMs: req.Args.Delay.Milliseconds(),
		BatchID: req.Args.BatchID,
	}, &ret)
	return ret.PID, err
}

// Candidates implements hostapi.Surveyor.
func (c *Client) Candidates(ctx context.Context) ([]model.TargetInfo, error) {
	var ret []model.TargetInfo
	err := c.call(ctx, MethodCandidates, struct{}{}, &ret)
	return ret, err
}

// PlayerLevel implements hostapi.Surveyor.
func (c *Client) PlayerLevel(ctx context.Context) (int, error) {
	var level int
	err := c.call(ctx, MethodPlayerLevel, struct{}{}, &level)
	return level, err
}

func (c *Client) targetDuration(ctx context.Context, method string, target model.TargetID) (time.Duration, error) {
	var ret durationResult
	if err := c.call(ctx, method, targetParams{Target: target}, &ret); err != nil {
		return 0, err
	}
	return time.Duration(ret.Ms) * time.Millisecond, nil
}

// HackTime implements hostapi.Timer.
func (c *Client) HackTime(ctx context.Context, target model.TargetID) (time.Duration, error) {
	return c.targetDuration(ctx, MethodHackTime, target)
}

// GrowTime implements hostapi.Timer.
func (c *Client) GrowTime(ctx context.Context, target model.TargetID) (time.Duration, error) {
	return c.targetDuration(ctx, MethodGrowTime, target)
}

// WeakenTime implements hostapi.Timer.
func (c *Client) WeakenTime(ctx context.Context, target model.TargetID) (time.Duration, error) {
	return c.targetDuration(ctx, MethodWeakenTime, target)
}

// ThreadCosts implements hostapi.CostProvider.
func (c *Client) ThreadCosts(ctx context.Context) (model.CostTable, error) {
	var costs model.CostTable
	err := c.call(ctx, MethodThreadCosts, struct{}{}, &costs)
	return costs, err
}

// DefenseModel implements hostapi.DefenseModelProvider.
func (c *Client) DefenseModel(ctx context.Context) (hostapi.DefenseModel, error) {
	var m hostapi.DefenseModel
	err := c.call(ctx, MethodDefenseModel, struct{}{}, &m)
	return m, err
}
