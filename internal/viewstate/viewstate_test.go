package viewstate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/codex/internal/middleware"
	"github.com/hitoshi/codex/internal/model"
)

func sessionContext() context.Context {
	return middleware.ContextWithSession(context.Background(), &model.Session{
		ID:          "sess-1",
		UserID:      "user-1",
		AccessToken: "token",
	})
}

type bookList []string

func TestCycle_Run_TransitionsLoadingThenSuccess(t *testing.T) {
	c := NewCycle[bookList]()

	var seen []State[bookList]
	c.OnTransition(func(s State[bookList]) { seen = append(seen, s) })

	state := c.Run(sessionContext(), func(ctx context.Context, s *model.Session) (bookList, error) {
		// クエリ実行中は loading
		snap := c.Snapshot()
		assert.True(t, snap.Loading())
		assert.False(t, snap.HasData())
		assert.Equal(t, "token", s.AccessToken)
		return bookList{"a", "b"}, nil
	})

	require.Len(t, seen, 2)
	assert.Equal(t, Loading, seen[0].Status)
	assert.Nil(t, seen[0].Data, "loading state must not carry data")
	assert.Equal(t, Success, seen[1].Status)

	assert.True(t, state.HasData())
	assert.False(t, state.Loading())
	assert.Equal(t, bookList{"a", "b"}, state.Data)
	assert.Equal(t, state, c.Snapshot())
}

func TestCycle_Run_EmptyResultIsNotError(t *testing.T) {
	state := Fetch(sessionContext(), func(ctx context.Context, s *model.Session) ([]string, error) {
		return []string{}, nil
	})

	assert.Equal(t, Success, state.Status)
	assert.True(t, state.IsEmpty())
	assert.False(t, state.Failed())
	assert.False(t, state.HasData())
	assert.Empty(t, state.Message())
}

func TestCycle_Run_ErrorSuppressesData(t *testing.T) {
	state := Fetch(sessionContext(), func(ctx context.Context, s *model.Session) ([]string, error) {
		return []string{"stale"}, model.NewGroupNotFoundError("g-1")
	})

	assert.True(t, state.Failed())
	assert.Nil(t, state.Data)
	assert.False(t, state.HasData())
	assert.Equal(t, "指定されたグループが見つかりません: g-1", state.Message())
}

func TestCycle_Run_NonAPIErrorUsesGenericMessage(t *testing.T) {
	state := Fetch(sessionContext(), func(ctx context.Context, s *model.Session) (int, error) {
		return 0, errors.New("connection reset")
	})

	assert.Equal(t, "内部エラーが発生しました。", state.Message())
	assert.False(t, IsAPIError(state.Err))
}

func TestCycle_Run_WithoutSession_DoesNotCallQuery(t *testing.T) {
	called := false
	state := Fetch(context.Background(), func(ctx context.Context, s *model.Session) ([]string, error) {
		called = true
		return nil, nil
	})

	assert.False(t, called)
	assert.True(t, state.Failed())
	assert.ErrorIs(t, state.Err, ErrNotAuthenticated)
	assert.Equal(t, "ログインが必要です。", state.Message())
	assert.False(t, state.IsEmpty(), "missing session must not look like empty data")
}

func TestCycle_Run_CanceledSettlesSilently(t *testing.T) {
	c := NewCycle[[]string]()
	var notified []Status
	c.OnTransition(func(s State[[]string]) { notified = append(notified, s.Status) })

	ctx, cancel := context.WithCancel(sessionContext())
	state := c.Run(ctx, func(ctx context.Context, s *model.Session) ([]string, error) {
		cancel()
		return nil, ctx.Err()
	})

	assert.True(t, state.Superseded())
	assert.Equal(t, []Status{Loading}, notified)
}

func TestStatus_String(t *testing.T) {
	tests := map[Status]string{
		Idle:    "idle",
		Loading: "loading",
		Success: "success",
		Error:   "error",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}

type shelf struct{ books []string }

func (s shelf) IsEmpty() bool { return len(s.books) == 0 }

func TestIsEmpty(t *testing.T) {
	var nilSlice []string
	var nilPtr *model.Profile

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, true},
		{"nil slice", nilSlice, true},
		{"empty slice", []int{}, true},
		{"slice", []int{1}, false},
		{"empty map", map[string]int{}, true},
		{"nil pointer", nilPtr, true},
		{"pointer", &model.Profile{}, false},
		{"struct", model.UserStats{}, false},
		{"emptier empty", shelf{}, true},
		{"emptier filled", shelf{books: []string{"x"}}, false},
		{"pointer to emptier", &shelf{}, true},
		{"zero int", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isEmpty(tt.value))
		})
	}
}

func TestCoordinator_NewerFetchCancelsOlder(t *testing.T) {
	co := NewCoordinator()
	key := FetchKey("sess-1", "/library")

	ctx1, done1 := co.Begin(context.Background(), key)
	ctx2, done2 := co.Begin(context.Background(), key)

	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.NoError(t, ctx2.Err())
	assert.Equal(t, 1, co.InFlight())

	// 古い取得の完了は新しい取得を消さない
	done1()
	assert.Equal(t, 1, co.InFlight())
	assert.NoError(t, ctx2.Err())

	done2()
	assert.Equal(t, 0, co.InFlight())
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
}

func TestCoordinator_DifferentKeysIndependent(t *testing.T) {
	co := NewCoordinator()

	ctxA, doneA := co.Begin(context.Background(), FetchKey("sess-1", "/library"))
	defer doneA()
	ctxB, doneB := co.Begin(context.Background(), FetchKey("sess-2", "/library"))
	defer doneB()

	assert.NoError(t, ctxA.Err())
	assert.NoError(t, ctxB.Err())
	assert.Equal(t, 2, co.InFlight())
}

func TestCoordinator_SupersededCycleIsDiscarded(t *testing.T) {
	co := NewCoordinator()
	key := FetchKey("sess-1", "/profile")

	started := make(chan struct{})
	result := make(chan State[[]string], 1)

	ctx1, done1 := co.Begin(sessionContext(), key)
	go func() {
		defer done1()
		result <- Fetch(ctx1, func(ctx context.Context, s *model.Session) ([]string, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}()

	<-started
	ctx2, done2 := co.Begin(sessionContext(), key)
	defer done2()
	second := Fetch(ctx2, func(ctx context.Context, s *model.Session) ([]string, error) {
		return []string{"fresh"}, nil
	})

	select {
	case first := <-result:
		assert.True(t, first.Superseded())
	case <-time.After(time.Second):
		t.Fatal("superseded fetch did not settle")
	}
	assert.True(t, second.HasData())
}

func TestMutator_ValidationBlocksCall(t *testing.T) {
	m := NewMutator()
	called := false

	state := m.Submit(sessionContext(), func() map[string]string {
		return map[string]string{"name": "グループ名は3文字以上で入力してください。"}
	}, StaticKey("k"), func(ctx context.Context, s *model.Session) (any, error) {
		called = true
		return nil, nil
	})

	assert.False(t, called)
	assert.True(t, state.Invalid())
	assert.Equal(t, Error, state.Status)
	assert.Empty(t, state.Message())
}

func TestMutator_WithoutSession(t *testing.T) {
	m := NewMutator()
	state := m.Submit(context.Background(), nil, StaticKey("k"), func(ctx context.Context, s *model.Session) (any, error) {
		t.Fatal("mutation should not run")
		return nil, nil
	})

	assert.ErrorIs(t, state.Err, ErrNotAuthenticated)
}

func TestMutator_SuccessCarriesValue(t *testing.T) {
	m := NewMutator()
	state := m.Submit(sessionContext(), nil, StaticKey("regen"), func(ctx context.Context, s *model.Session) (any, error) {
		return "NEWCODE", nil
	})

	require.True(t, state.Succeeded())
	code, ok := ValueAs[string](state)
	assert.True(t, ok)
	assert.Equal(t, "NEWCODE", code)
	assert.False(t, state.Shared)
}

func TestMutator_FailureShowsServerMessage(t *testing.T) {
	m := NewMutator()
	state := m.Submit(sessionContext(), nil, StaticKey("join"), func(ctx context.Context, s *model.Session) (any, error) {
		return nil, model.NewUpstreamError(400, "招待コードが無効です", "参加に失敗しました。")
	})

	assert.Equal(t, Error, state.Status)
	assert.Equal(t, "招待コードが無効です", state.Message())
}

func TestMutator_DuplicateSubmissionsShareOneWrite(t *testing.T) {
	m := NewMutator()
	key := MutationKey("sess-1", "create-group", "Book Club")

	var writes int32
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once

	do := func(ctx context.Context, s *model.Session) (any, error) {
		atomic.AddInt32(&writes, 1)
		once.Do(func() { close(entered) })
		<-release
		return "group-1", nil
	}

	results := make(chan MutateState, 2)
	go func() { results <- m.Submit(sessionContext(), nil, StaticKey(key), do) }()
	<-entered
	go func() { results <- m.Submit(sessionContext(), nil, StaticKey(key), do) }()

	// 2回目の送信がsingleflightで待機するまで少し待つ
	time.Sleep(50 * time.Millisecond)
	close(release)

	first, second := <-results, <-results
	assert.Equal(t, int32(1), atomic.LoadInt32(&writes))
	assert.True(t, first.Succeeded())
	assert.True(t, second.Succeeded())
	assert.True(t, first.Shared || second.Shared)
}

func TestMutationKey(t *testing.T) {
	assert.Equal(t, MutationKey("s", "join", "CODEA"), MutationKey("s", "join", "CODEA"))
	assert.True(t, strings.HasPrefix(MutationKey("s", "join", "CODEA"), "s|join|"))

	assert.NotEqual(t, MutationKey("s", "join", "CODEA"), MutationKey("s", "join", "CODEB"))
	assert.NotEqual(t, MutationKey("s", "join", "CODEA"), MutationKey("other", "join", "CODEA"))
	assert.NotEqual(t, MutationKey("s", "invite", "a|b"), MutationKey("s", "invite", "a", "b"))
	assert.NotEqual(t, MutationKey("s", "invite", "ab", ""), MutationKey("s", "invite", "a", "b"))
}

func TestMutator_DifferentKeysWriteSeparately(t *testing.T) {
	m := NewMutator()

	var mu sync.Mutex
	var seen []string
	release := make(chan struct{})
	entered := make(chan struct{}, 2)

	submit := func(code string) MutateState {
		return m.Submit(sessionContext(), nil, func() string { return MutationKey("sess-1", "join", code) },
			func(ctx context.Context, s *model.Session) (any, error) {
				mu.Lock()
				seen = append(seen, code)
				mu.Unlock()
				entered <- struct{}{}
				<-release
				return nil, nil
			})
	}

	results := make(chan MutateState, 2)
	go func() { results <- submit("CODEA") }()
	go func() { results <- submit("CODEB") }()
	<-entered
	<-entered
	close(release)

	first, second := <-results, <-results
	assert.False(t, first.Shared)
	assert.False(t, second.Shared)
	assert.ElementsMatch(t, []string{"CODEA", "CODEB"}, seen)
}

func TestMutator_KeyBuiltAfterValidation(t *testing.T) {
	m := NewMutator()
	name := "  Book Club  "
	var key string

	m.Submit(sessionContext(), func() map[string]string {
		name = strings.TrimSpace(name)
		return nil
	}, func() string {
		key = MutationKey("sess-1", "create", name)
		return key
	}, func(ctx context.Context, s *model.Session) (any, error) {
		return nil, nil
	})

	assert.Equal(t, MutationKey("sess-1", "create", "Book Club"), key)
}
