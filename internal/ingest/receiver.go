// Package ingest listens for telemetry datagrams, decodes and validates
// them, and feeds accepted frames into the state table, the match tracker
// and the match log writer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"robomon/internal/logwriter"
	"robomon/internal/match"
	"robomon/internal/statetable"
	"robomon/internal/telemetry"

	logx "robomon/pkg/logx"
)

// maxDatagram is generous for a single telemetry frame; larger packets are
// truncated by the kernel and will fail to decode.
const maxDatagram = 64 << 10

type Config struct {
	Listen     string
	Multicast  string
	Interface  string
	Codec      string
	ReadBuffer int
}

// Stats is a point-in-time view of receiver counters.
type Stats struct {
	Received    uint64 `json:"received"`
	Accepted    uint64 `json:"accepted"`
	ParseErrors uint64 `json:"parse_errors"`
	MissingID   uint64 `json:"missing_id"`
}

// Receiver owns the UDP socket and the per-packet pipeline.
type Receiver struct {
	cfg   Config
	log   logx.Logger
	codec telemetry.Codec

	table   *statetable.Table
	tracker *match.Tracker
	writer  *logwriter.Writer

	conn *net.UDPConn

	received    atomic.Uint64
	accepted    atomic.Uint64
	parseErrors atomic.Uint64
	missingID   atomic.Uint64

	// errLimit and eventLimit keep a misbehaving sender from flooding the log.
	errLimit   *rate.Limiter
	eventLimit *rate.Limiter
}

func New(cfg Config, table *statetable.Table, tracker *match.Tracker, writer *logwriter.Writer, log logx.Logger) (*Receiver, error) {
	codec, err := telemetry.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		cfg:        cfg,
		log:        log,
		codec:      codec,
		table:      table,
		tracker:    tracker,
		writer:     writer,
		errLimit:   rate.NewLimiter(rate.Every(time.Second), 5),
		eventLimit: rate.NewLimiter(rate.Limit(10), 20),
	}, nil
}

// Open binds the socket. A bind failure is fatal to startup, so it is
// separated from Run.
func (r *Receiver) Open() error {
	if r.conn != nil {
		return errors.New("receiver already open")
	}
	var (
		conn *net.UDPConn
		err  error
	)
	if mc := strings.TrimSpace(r.cfg.Multicast); mc != "" {
		var gaddr *net.UDPAddr
		gaddr, err = net.ResolveUDPAddr("udp", mc)
		if err != nil {
			return fmt.Errorf("resolve multicast addr %q: %w", mc, err)
		}
		var ifi *net.Interface
		if name := strings.TrimSpace(r.cfg.Interface); name != "" {
			ifi, err = net.InterfaceByName(name)
			if err != nil {
				return fmt.Errorf("multicast interface %q: %w", name, err)
			}
		}
		conn, err = net.ListenMulticastUDP("udp", ifi, gaddr)
		if err != nil {
			return fmt.Errorf("join multicast group %q: %w", mc, err)
		}
	} else {
		var laddr *net.UDPAddr
		laddr, err = net.ResolveUDPAddr("udp", r.cfg.Listen)
		if err != nil {
			return fmt.Errorf("resolve listen addr %q: %w", r.cfg.Listen, err)
		}
		conn, err = net.ListenUDP("udp", laddr)
		if err != nil {
			return fmt.Errorf("bind %q: %w", r.cfg.Listen, err)
		}
	}
	if r.cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(r.cfg.ReadBuffer); err != nil {
			r.log.Warn("set read buffer failed", logx.Err(err), logx.Int("bytes", r.cfg.ReadBuffer))
		}
	}
	r.conn = conn
	r.log.Info("telemetry listener started",
		logx.String("addr", conn.LocalAddr().String()),
		logx.String("codec", r.codec.Name()),
		logx.Bool("multicast", strings.TrimSpace(r.cfg.Multicast) != ""),
	)
	return nil
}

// Run reads datagrams until ctx is done. Open must have succeeded first.
func (r *Receiver) Run(ctx context.Context) error {
	if r.conn == nil {
		return errors.New("receiver not open")
	}
	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return nil
		}
		// Short deadline so ctx cancellation is noticed promptly.
		_ = r.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if r.errLimit.Allow() {
				r.log.Warn("udp read error", logx.Err(err))
			}
			continue
		}
		r.handlePacket(buf[:n], addr, time.Now())
	}
}

func (r *Receiver) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// handlePacket runs the full per-datagram pipeline. Malformed packets and
// packets without a robot id are counted and dropped; state is only touched
// by frames that pass validation.
func (r *Receiver) handlePacket(data []byte, addr *net.UDPAddr, now time.Time) {
	r.received.Add(1)

	f, err := r.codec.Decode(data)
	if err != nil {
		r.parseErrors.Add(1)
		if r.errLimit.Allow() {
			from := ""
			if addr != nil {
				from = addr.String()
			}
			r.log.Warn("bad telemetry packet", logx.Err(err),
				logx.String("from", from), logx.Int("bytes", len(data)))
		}
		return
	}
	if strings.TrimSpace(f.RobotID) == "" {
		r.missingID.Add(1)
		if r.errLimit.Allow() {
			r.log.Warn("telemetry packet without robot_id", logx.Uint64("total", r.missingID.Load()))
		}
		return
	}

	r.accepted.Add(1)
	r.table.Update(f.RobotID, f, now)
	r.tracker.Observe(f.RobotID, f.Decision.GameState)

	if id, ok := r.tracker.ActiveID(); ok {
		r.writer.Append(id, f, now)
	}

	for _, ev := range f.Events {
		if !r.eventLimit.Allow() {
			break
		}
		r.log.Info("robot event",
			logx.String("robot_id", f.RobotID),
			logx.String("event", ev.Type.String()),
			logx.String("description", ev.Description),
		)
	}
}

func (r *Receiver) Stats() Stats {
	return Stats{
		Received:    r.received.Load(),
		Accepted:    r.accepted.Load(),
		ParseErrors: r.parseErrors.Load(),
		MissingID:   r.missingID.Load(),
	}
}
