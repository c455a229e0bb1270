package stats

import (
	"context"
	"log"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type ConnectionCounter interface {
	Count() int
}

type RoomCounter interface {
	Stats() (rooms, memberships int)
}

type Snapshot struct {
	Connections     int     `json:"connections"`
	Rooms           int     `json:"rooms"`
	Memberships     int     `json:"memberships"`
	FramesDelivered int64   `json:"frames_delivered"`
	FramesDropped   int64   `json:"frames_dropped"`
	Goroutines      int     `json:"goroutines"`
	CPUPercent      float64 `json:"cpu_percent"`
	RSSBytes        uint64  `json:"rss_bytes"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
}

// Collector samples process and chat counters for /stats and the periodic
// log line.
type Collector struct {
	conns     ConnectionCounter
	rooms     RoomCounter
	proc      *process.Process
	started   time.Time
	delivered atomic.Int64
	dropped   atomic.Int64
}

func NewCollector(conns ConnectionCounter, rooms RoomCounter) *Collector {
	c := &Collector{conns: conns, rooms: rooms, started: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Printf("process stats unavailable: %v", err)
	} else {
		c.proc = proc
	}
	return c
}

func (c *Collector) RecordDelivery(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.delivered.Add(1)
		return
	}
	c.dropped.Add(1)
}

func (c *Collector) Snapshot(ctx context.Context) Snapshot {
	s := Snapshot{
		FramesDelivered: c.delivered.Load(),
		FramesDropped:   c.dropped.Load(),
		Goroutines:      runtime.NumGoroutine(),
		UptimeSeconds:   int64(time.Since(c.started).Seconds()),
	}
	if c.conns != nil {
		s.Connections = c.conns.Count()
	}
	if c.rooms != nil {
		s.Rooms, s.Memberships = c.rooms.Stats()
	}
	if c.proc != nil {
		if percent, err := c.proc.PercentWithContext(ctx, 0); err == nil {
			s.CPUPercent = percent
		}
		if mem, err := c.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			s.RSSBytes = mem.RSS
		}
	}
	return s
}

func (c *Collector) LogLoop(ctx context.Context, interval time.Duration) {
	if c == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.Snapshot(ctx)
			log.Printf("chat stats: connections=%d rooms=%d memberships=%d delivered=%d dropped=%d cpu=%.1f%% rss_kib=%d",
				s.Connections, s.Rooms, s.Memberships, s.FramesDelivered, s.FramesDropped, s.CPUPercent, s.RSSBytes/1024)
		}
	}
}
