package scheduler

import (
	"sync"
	"time"
)

// ownerLimits 租户配额：并发实例上限 + 滚动 24h 的 start 次数上限。
// 两者任一超限都让 Start 在创建实例前失败。
type ownerLimits struct {
	mu            sync.Mutex
	maxConcurrent int
	maxDaily      int
	windows       map[string]*ownerWindow

	now func() time.Time
}

type ownerWindow struct {
	start time.Time
	count int
}

func newOwnerLimits(maxConcurrent, maxDaily int) *ownerLimits {
	return &ownerLimits{
		maxConcurrent: maxConcurrent,
		maxDaily:      maxDaily,
		windows:       make(map[string]*ownerWindow),
		now:           time.Now,
	}
}

// allowStart 检查并占用配额。activeForOwner 为该租户当前活跃实例数。
func (l *ownerLimits) allowStart(owner string, activeForOwner int) error {
	if owner == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxConcurrent > 0 && activeForOwner >= l.maxConcurrent {
		return ErrOwnerInstanceLimit
	}

	if l.maxDaily > 0 {
		now := l.now()
		w, ok := l.windows[owner]
		if !ok || now.Sub(w.start) >= 24*time.Hour {
			w = &ownerWindow{start: now}
			l.windows[owner] = w
		}
		if w.count >= l.maxDaily {
			return ErrOwnerDailyLimit
		}
		w.count++
	}
	return nil
}
