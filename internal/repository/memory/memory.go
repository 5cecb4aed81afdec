// Пакет memory - реализация repository.Store в памяти процесса.
//
// Один мьютекс служит точкой сериализации: транзакция удерживает его
// целиком, поэтому GetForUpdate эквивалентен GetByID. При ошибке fn
// состояние восстанавливается из снимка, сделанного в начале транзакции.
// Используется в unit-тестах сервисов и в режиме AS_STORAGE=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// state - все данные хранилища.
// Записи хранятся по значению, наружу отдаются копии.
type state struct {
	seq int64

	projects      map[string]model.Project
	processes     map[string]model.FileProcess
	processOrder  map[string]int64
	processEvents []model.ProcessEvent
	freeRanges    map[string][]model.RowRange
	configs       map[string]model.AutomationConfig
	entries       map[string]map[string]model.AutomationEntry
	requests      map[string]model.FileRequest
	requestOrder  map[string]int64
	requestEvents []model.RequestEvent
	overrides     map[string]model.RoleOverride
}

func newState() *state {
	return &state{
		projects:     make(map[string]model.Project),
		processes:    make(map[string]model.FileProcess),
		processOrder: make(map[string]int64),
		freeRanges:   make(map[string][]model.RowRange),
		configs:      make(map[string]model.AutomationConfig),
		entries:      make(map[string]map[string]model.AutomationEntry),
		requests:     make(map[string]model.FileRequest),
		requestOrder: make(map[string]int64),
		overrides:    make(map[string]model.RoleOverride),
	}
}

// clone возвращает глубокую копию состояния.
// Указатели внутри моделей не копируются: сервисы заменяют их, а не
// изменяют значения по указателю.
func (s *state) clone() *state {
	c := &state{
		seq:           s.seq,
		projects:      cloneMap(s.projects),
		processes:     cloneMap(s.processes),
		processOrder:  cloneMap(s.processOrder),
		processEvents: append([]model.ProcessEvent(nil), s.processEvents...),
		freeRanges:    make(map[string][]model.RowRange, len(s.freeRanges)),
		configs:       cloneMap(s.configs),
		entries:       make(map[string]map[string]model.AutomationEntry, len(s.entries)),
		requests:      cloneMap(s.requests),
		requestOrder:  cloneMap(s.requestOrder),
		requestEvents: append([]model.RequestEvent(nil), s.requestEvents...),
		overrides:     cloneMap(s.overrides),
	}
	for k, v := range s.freeRanges {
		c.freeRanges[k] = append([]model.RowRange(nil), v...)
	}
	for k, v := range s.entries {
		c.entries[k] = cloneMap(v)
	}
	return c
}

func (s *state) nextSeq() int64 {
	s.seq++
	return s.seq
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Store - in-memory реализация repository.Store.
type Store struct {
	mu sync.Mutex
	st *state

	now   func() time.Time
	repos *repository.Repositories
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	s := &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
	s.repos = s.reposFor(&view{store: s})
	return s
}

// Repos возвращает репозитории вне транзакции: каждый вызов
// выполняется под мьютексом.
func (s *Store) Repos() *repository.Repositories {
	return s.repos
}

// RunInTx выполняет fn под мьютексом хранилища. При ошибке fn
// (или панике) состояние откатывается.
func (s *Store) RunInTx(ctx context.Context, fn func(r *repository.Repositories) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		}
		if err != nil {
			s.st = snapshot
		}
	}()

	return fn(s.reposFor(&view{store: s, inTx: true}))
}

func (s *Store) reposFor(v *view) *repository.Repositories {
	return &repository.Repositories{
		Projects:      &projectRepo{v: v},
		Processes:     &processRepo{v: v},
		Requests:      &requestRepo{v: v},
		Automation:    &automationRepo{v: v},
		RoleOverrides: &roleOverrideRepo{v: v},
	}
}

// view - доступ к состоянию: внутри транзакции мьютекс уже захвачен.
type view struct {
	store *Store
	inTx  bool
}

func (v *view) run(fn func(st *state) error) error {
	if !v.inTx {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	return fn(v.store.st)
}

func (v *view) now() time.Time {
	return v.store.now()
}

// page применяет limit/offset к уже отсортированному срезу.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// newestFirst сортирует идентификаторы по убыванию порядкового номера.
func newestFirst(ids []string, order map[string]int64) {
	sort.Slice(ids, func(i, j int) bool { return order[ids[i]] > order[ids[j]] })
}

func ensureID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

// Проверка соответствия интерфейсу.
var _ repository.Store = (*Store)(nil)
