package session

import (
	"sync"
	"time"

	"swapbot/internal/scheduler"
)

// timerCanceler 是 Store 需要的调度能力子集。
type timerCanceler interface {
	Cancel(token scheduler.Token)
}

// Store 按用户持有进行中的会话，是唯一的会话事实来源。
// 所有读写都在互斥锁内完成，替换或删除会话时统一取消其计时器。
type Store struct {
	sched timerCanceler

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore 创建会话存储。
func NewStore(sched timerCanceler) *Store {
	return &Store{
		sched:    sched,
		sessions: make(map[string]*Session),
	}
}

// Start 为用户创建全新会话；若已有会话则先取消其计时器再整体替换，
// 确保同一用户不会有两条兑换流程交错。
func (s *Store) Start(owner string, now time.Time) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.sessions[owner]; ok {
		s.cancelTimersLocked(prev)
	}

	fresh := &Session{
		Owner:     owner,
		State:     StateCollecting,
		CreatedAt: now,
	}
	s.sessions[owner] = fresh
	return *fresh
}

// Get 返回会话的快照副本。
func (s *Store) Get(owner string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[owner]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Update 在锁内对会话执行变更；会话不存在时不调用 fn 并返回 false。
func (s *Store) Update(owner string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[owner]
	if !ok {
		return false
	}
	fn(sess)
	return true
}

// Clear 取消会话持有的计时器并删除会话。
func (s *Store) Clear(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[owner]
	if !ok {
		return false
	}
	s.cancelTimersLocked(sess)
	delete(s.sessions, owner)
	return true
}

// Len 返回当前会话数量。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) cancelTimersLocked(sess *Session) {
	if sess.pollToken != "" {
		s.sched.Cancel(sess.pollToken)
		sess.pollToken = ""
	}
	if sess.expiryToken != "" {
		s.sched.Cancel(sess.expiryToken)
		sess.expiryToken = ""
	}
}
