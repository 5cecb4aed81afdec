package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// --- Проекты ---

type projectRepo struct{ v *view }

func (r *projectRepo) Create(_ context.Context, p *model.Project) error {
	return r.v.run(func(st *state) error {
		for _, existing := range st.projects {
			if existing.Name == p.Name {
				return fmt.Errorf("%w: проект с именем %q уже существует", repository.ErrConflict, p.Name)
			}
		}
		p.ID = ensureID(p.ID)
		p.CreatedAt = r.v.now()
		p.UpdatedAt = p.CreatedAt
		st.projects[p.ID] = *p
		return nil
	})
}

func (r *projectRepo) GetByID(_ context.Context, id string) (*model.Project, error) {
	var out *model.Project
	err := r.v.run(func(st *state) error {
		p, ok := st.projects[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *projectRepo) GetByName(_ context.Context, name string) (*model.Project, error) {
	var out *model.Project
	err := r.v.run(func(st *state) error {
		for _, p := range st.projects {
			if p.Name == name {
				out = &p
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *projectRepo) sorted(st *state) []*model.Project {
	result := make([]*model.Project, 0, len(st.projects))
	for _, p := range st.projects {
		result = append(result, &p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (r *projectRepo) List(_ context.Context, limit, offset int) ([]*model.Project, error) {
	var out []*model.Project
	err := r.v.run(func(st *state) error {
		out = page(r.sorted(st), limit, offset)
		return nil
	})
	return out, err
}

func (r *projectRepo) Count(_ context.Context) (int, error) {
	var n int
	err := r.v.run(func(st *state) error {
		n = len(st.projects)
		return nil
	})
	return n, err
}

func (r *projectRepo) Update(_ context.Context, p *model.Project) error {
	return r.v.run(func(st *state) error {
		if _, ok := st.projects[p.ID]; !ok {
			return repository.ErrNotFound
		}
		for id, existing := range st.projects {
			if id != p.ID && existing.Name == p.Name {
				return fmt.Errorf("%w: проект с именем %q уже существует", repository.ErrConflict, p.Name)
			}
		}
		p.UpdatedAt = r.v.now()
		st.projects[p.ID] = *p
		return nil
	})
}

// --- Процессы ---

type processRepo struct{ v *view }

func (r *processRepo) Create(_ context.Context, p *model.FileProcess) error {
	return r.v.run(func(st *state) error {
		p.ID = ensureID(p.ID)
		if _, ok := st.processes[p.ID]; ok {
			return fmt.Errorf("%w: процесс с таким ID уже существует", repository.ErrConflict)
		}
		if _, ok := st.projects[p.ProjectID]; !ok {
			return fmt.Errorf("проект %s не существует", p.ProjectID)
		}
		p.CreatedAt = r.v.now()
		p.UpdatedAt = p.CreatedAt
		st.processes[p.ID] = *p
		st.processOrder[p.ID] = st.nextSeq()
		return nil
	})
}

func (r *processRepo) GetByID(_ context.Context, id string) (*model.FileProcess, error) {
	var out *model.FileProcess
	err := r.v.run(func(st *state) error {
		p, ok := st.processes[id]
		if !ok || p.IsDeleted() {
			return repository.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

// GetForUpdate - транзакция уже удерживает мьютекс хранилища.
func (r *processRepo) GetForUpdate(ctx context.Context, id string) (*model.FileProcess, error) {
	return r.GetByID(ctx, id)
}

func matchProcess(p *model.FileProcess, f model.ProcessFilters) bool {
	if p.IsDeleted() {
		return false
	}
	if f.ProjectID != nil && p.ProjectID != *f.ProjectID {
		return false
	}
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.Type != nil && p.Type != *f.Type {
		return false
	}
	return true
}

func (r *processRepo) filtered(st *state, f model.ProcessFilters) []*model.FileProcess {
	ids := make([]string, 0, len(st.processes))
	for id, p := range st.processes {
		if matchProcess(&p, f) {
			ids = append(ids, id)
		}
	}
	newestFirst(ids, st.processOrder)

	result := make([]*model.FileProcess, 0, len(ids))
	for _, id := range ids {
		p := st.processes[id]
		result = append(result, &p)
	}
	return result
}

func (r *processRepo) List(_ context.Context, f model.ProcessFilters, limit, offset int) ([]*model.FileProcess, error) {
	var out []*model.FileProcess
	err := r.v.run(func(st *state) error {
		out = page(r.filtered(st, f), limit, offset)
		return nil
	})
	return out, err
}

func (r *processRepo) Count(_ context.Context, f model.ProcessFilters) (int, error) {
	var n int
	err := r.v.run(func(st *state) error {
		n = len(r.filtered(st, f))
		return nil
	})
	return n, err
}

func (r *processRepo) Update(_ context.Context, p *model.FileProcess) error {
	return r.v.run(func(st *state) error {
		existing, ok := st.processes[p.ID]
		if !ok || existing.IsDeleted() {
			return repository.ErrNotFound
		}
		p.UpdatedAt = r.v.now()
		st.processes[p.ID] = *p
		return nil
	})
}

func (r *processRepo) AddEvent(_ context.Context, e *model.ProcessEvent) error {
	return r.v.run(func(st *state) error {
		e.ID = ensureID(e.ID)
		e.CreatedAt = r.v.now()
		st.processEvents = append(st.processEvents, *e)
		return nil
	})
}

func (r *processRepo) ListEvents(_ context.Context, processID string) ([]*model.ProcessEvent, error) {
	var out []*model.ProcessEvent
	err := r.v.run(func(st *state) error {
		for _, e := range st.processEvents {
			if e.ProcessID == processID {
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

func (r *processRepo) FreeRanges(_ context.Context, processID string) ([]model.RowRange, error) {
	var out []model.RowRange
	err := r.v.run(func(st *state) error {
		out = append(out, st.freeRanges[processID]...)
		sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
		return nil
	})
	return out, err
}

func (r *processRepo) ReplaceFreeRanges(_ context.Context, processID string, ranges []model.RowRange) error {
	return r.v.run(func(st *state) error {
		if len(ranges) == 0 {
			delete(st.freeRanges, processID)
			return nil
		}
		st.freeRanges[processID] = append([]model.RowRange(nil), ranges...)
		return nil
	})
}

// --- Заявки ---

type requestRepo struct{ v *view }

func (r *requestRepo) Create(_ context.Context, fr *model.FileRequest) error {
	return r.v.run(func(st *state) error {
		fr.ID = ensureID(fr.ID)
		if _, ok := st.requests[fr.ID]; ok {
			return fmt.Errorf("%w: заявка с таким ID уже существует", repository.ErrConflict)
		}
		if _, ok := st.processes[fr.ProcessID]; !ok {
			return fmt.Errorf("процесс %s не существует", fr.ProcessID)
		}
		fr.CreatedAt = r.v.now()
		fr.UpdatedAt = fr.CreatedAt
		st.requests[fr.ID] = *fr
		st.requestOrder[fr.ID] = st.nextSeq()
		return nil
	})
}

func (r *requestRepo) GetByID(_ context.Context, id string) (*model.FileRequest, error) {
	var out *model.FileRequest
	err := r.v.run(func(st *state) error {
		fr, ok := st.requests[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &fr
		return nil
	})
	return out, err
}

func (r *requestRepo) GetForUpdate(ctx context.Context, id string) (*model.FileRequest, error) {
	return r.GetByID(ctx, id)
}

func matchRequest(fr *model.FileRequest, f model.RequestFilters) bool {
	if f.ProcessID != nil && fr.ProcessID != *f.ProcessID {
		return false
	}
	if f.UserID != nil && fr.UserID != *f.UserID {
		return false
	}
	if f.Status != nil && fr.Status != *f.Status {
		return false
	}
	return true
}

func (r *requestRepo) filtered(st *state, f model.RequestFilters) []*model.FileRequest {
	ids := make([]string, 0, len(st.requests))
	for id, fr := range st.requests {
		if matchRequest(&fr, f) {
			ids = append(ids, id)
		}
	}
	newestFirst(ids, st.requestOrder)

	result := make([]*model.FileRequest, 0, len(ids))
	for _, id := range ids {
		fr := st.requests[id]
		result = append(result, &fr)
	}
	return result
}

func (r *requestRepo) List(_ context.Context, f model.RequestFilters, limit, offset int) ([]*model.FileRequest, error) {
	var out []*model.FileRequest
	err := r.v.run(func(st *state) error {
		out = page(r.filtered(st, f), limit, offset)
		return nil
	})
	return out, err
}

func (r *requestRepo) Count(_ context.Context, f model.RequestFilters) (int, error) {
	var n int
	err := r.v.run(func(st *state) error {
		n = len(r.filtered(st, f))
		return nil
	})
	return n, err
}

func (r *requestRepo) Update(_ context.Context, fr *model.FileRequest) error {
	return r.v.run(func(st *state) error {
		if _, ok := st.requests[fr.ID]; !ok {
			return repository.ErrNotFound
		}
		fr.UpdatedAt = r.v.now()
		st.requests[fr.ID] = *fr
		return nil
	})
}

func (r *requestRepo) CountOpen(_ context.Context, processID string) (int, error) {
	var n int
	err := r.v.run(func(st *state) error {
		for _, fr := range st.requests {
			if fr.ProcessID == processID && fr.IsOpen() {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *requestRepo) HeldRanges(_ context.Context, processID string) ([]model.RowRange, error) {
	var out []model.RowRange
	err := r.v.run(func(st *state) error {
		for _, fr := range st.requests {
			if fr.ProcessID != processID || !fr.HoldsRange() {
				continue
			}
			if rr, ok := fr.Range(); ok {
				out = append(out, rr)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
		return nil
	})
	return out, err
}

func (r *requestRepo) AddEvent(_ context.Context, e *model.RequestEvent) error {
	return r.v.run(func(st *state) error {
		e.ID = ensureID(e.ID)
		e.CreatedAt = r.v.now()
		st.requestEvents = append(st.requestEvents, *e)
		return nil
	})
}

func (r *requestRepo) ListEvents(_ context.Context, requestID string) ([]*model.RequestEvent, error) {
	var out []*model.RequestEvent
	err := r.v.run(func(st *state) error {
		for _, e := range st.requestEvents {
			if e.RequestID == requestID {
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

// --- Automation ---

type automationRepo struct{ v *view }

func dateKey(d time.Time) string {
	return d.UTC().Format(time.DateOnly)
}

func (r *automationRepo) CreateConfig(_ context.Context, c *model.AutomationConfig) error {
	return r.v.run(func(st *state) error {
		if _, ok := st.configs[c.ProcessID]; ok {
			return fmt.Errorf("%w: настройки automation уже существуют", repository.ErrConflict)
		}
		c.CreatedAt = r.v.now()
		c.UpdatedAt = c.CreatedAt
		st.configs[c.ProcessID] = *c
		return nil
	})
}

func (r *automationRepo) GetConfig(_ context.Context, processID string) (*model.AutomationConfig, error) {
	var out *model.AutomationConfig
	err := r.v.run(func(st *state) error {
		c, ok := st.configs[processID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r *automationRepo) UpdateConfig(_ context.Context, c *model.AutomationConfig) error {
	return r.v.run(func(st *state) error {
		if _, ok := st.configs[c.ProcessID]; !ok {
			return repository.ErrNotFound
		}
		c.UpdatedAt = r.v.now()
		st.configs[c.ProcessID] = *c
		return nil
	})
}

func (r *automationRepo) GetEntry(_ context.Context, processID string, date time.Time) (*model.AutomationEntry, error) {
	var out *model.AutomationEntry
	err := r.v.run(func(st *state) error {
		e, ok := st.entries[processID][dateKey(date)]
		if !ok {
			return repository.ErrNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r *automationRepo) UpsertEntry(_ context.Context, e *model.AutomationEntry) error {
	return r.v.run(func(st *state) error {
		byDate, ok := st.entries[e.ProcessID]
		if !ok {
			byDate = make(map[string]model.AutomationEntry)
			st.entries[e.ProcessID] = byDate
		}
		now := r.v.now()
		key := dateKey(e.Date)
		if existing, ok := byDate[key]; ok {
			e.CreatedAt = existing.CreatedAt
		} else {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		byDate[key] = *e
		return nil
	})
}

func (r *automationRepo) ListEntries(_ context.Context, processID string) ([]*model.AutomationEntry, error) {
	var out []*model.AutomationEntry
	err := r.v.run(func(st *state) error {
		for _, e := range st.entries[processID] {
			out = append(out, &e)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
		return nil
	})
	return out, err
}

// --- Role overrides ---

type roleOverrideRepo struct{ v *view }

func (r *roleOverrideRepo) Upsert(_ context.Context, ro *model.RoleOverride) error {
	return r.v.run(func(st *state) error {
		now := r.v.now()
		if existing, ok := st.overrides[ro.UserID]; ok {
			ro.ID = existing.ID
			ro.CreatedAt = existing.CreatedAt
		} else {
			ro.ID = ensureID(ro.ID)
			ro.CreatedAt = now
		}
		ro.UpdatedAt = now
		st.overrides[ro.UserID] = *ro
		return nil
	})
}

func (r *roleOverrideRepo) GetByUserID(_ context.Context, userID string) (*model.RoleOverride, error) {
	var out *model.RoleOverride
	err := r.v.run(func(st *state) error {
		ro, ok := st.overrides[userID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &ro
		return nil
	})
	return out, err
}

func (r *roleOverrideRepo) Delete(_ context.Context, userID string) error {
	return r.v.run(func(st *state) error {
		if _, ok := st.overrides[userID]; !ok {
			return repository.ErrNotFound
		}
		delete(st.overrides, userID)
		return nil
	})
}

func (r *roleOverrideRepo) List(_ context.Context, limit, offset int) ([]*model.RoleOverride, error) {
	var out []*model.RoleOverride
	err := r.v.run(func(st *state) error {
		all := make([]*model.RoleOverride, 0, len(st.overrides))
		for _, ro := range st.overrides {
			all = append(all, &ro)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].UserID < all[j].UserID })
		out = page(all, limit, offset)
		return nil
	})
	return out, err
}

func (r *roleOverrideRepo) Count(_ context.Context) (int, error) {
	var n int
	err := r.v.run(func(st *state) error {
		n = len(st.overrides)
		return nil
	})
	return n, err
}

// Проверка соответствия интерфейсам.
var (
	_ repository.ProjectRepository      = (*projectRepo)(nil)
	_ repository.ProcessRepository      = (*processRepo)(nil)
	_ repository.RequestRepository      = (*requestRepo)(nil)
	_ repository.AutomationRepository   = (*automationRepo)(nil)
	_ repository.RoleOverrideRepository = (*roleOverrideRepo)(nil)
)
