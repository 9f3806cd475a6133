package repository

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"casedata-engine/internal/domain"
)

// MemoryErrandRepository 内存案件仓库（DB 未启用时及测试使用）
// 语义与 Postgres 实现一致：errand_number 唯一，Save 做版本检查
type MemoryErrandRepository struct {
	mu      sync.RWMutex
	nextID  int64
	errands map[int64]*domain.Errand
}

func NewMemoryErrandRepository() *MemoryErrandRepository {
	return &MemoryErrandRepository{
		errands: map[int64]*domain.Errand{},
	}
}

var _ ErrandRepository = (*MemoryErrandRepository)(nil)

func (r *MemoryErrandRepository) FindByID(_ context.Context, id int64) (*domain.Errand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.errands[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "errand", Key: strconv.FormatInt(id, 10)}
	}
	return e.Clone(), nil
}

func (r *MemoryErrandRepository) FindByErrandNumber(_ context.Context, errandNumber string) (*domain.Errand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.sorted() {
		if e.ErrandNumber == errandNumber {
			return e.Clone(), nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "errand", Key: errandNumber}
}

func (r *MemoryErrandRepository) FindByExternalCaseID(_ context.Context, municipalityID, externalCaseID string) (*domain.Errand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.sorted() {
		if e.MunicipalityID == municipalityID && e.ExternalCaseID != "" && e.ExternalCaseID == externalCaseID {
			return e.Clone(), nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "errand", Key: externalCaseID}
}

func (r *MemoryErrandRepository) ListErrandNumbersByPrefix(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, e := range r.sorted() {
		if strings.HasPrefix(e.ErrandNumber, prefix) {
			out = append(out, e.ErrandNumber)
		}
	}
	return out, nil
}

func (r *MemoryErrandRepository) FindSuspendedBefore(_ context.Context, t time.Time) ([]*domain.Errand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Errand
	for _, e := range r.sorted() {
		if e.SuspendedTo != nil && e.SuspendedTo.Before(t) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (r *MemoryErrandRepository) Create(_ context.Context, errand *domain.Errand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.errands {
		if e.ErrandNumber != "" && e.ErrandNumber == errand.ErrandNumber {
			return &domain.ConflictError{
				Entity: "errand",
				ID:     errand.ErrandNumber,
				Reason: "errand_number already exists",
			}
		}
	}

	r.nextID++
	errand.ID = r.nextID
	errand.Version = 0
	for i := range errand.Stakeholders {
		errand.Stakeholders[i].ErrandID = errand.ID
		errand.Stakeholders[i].ID = int64(i + 1)
	}
	r.errands[errand.ID] = errand.Clone()
	return nil
}

func (r *MemoryErrandRepository) Save(_ context.Context, errand *domain.Errand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.errands[errand.ID]
	if !ok || current.Version != errand.Version {
		return &domain.ConflictError{
			Entity:          "errand",
			ID:              strconv.FormatInt(errand.ID, 10),
			ExpectedVersion: errand.Version,
			Reason:          "version mismatch",
		}
	}

	stored := errand.Clone()
	stored.ErrandNumber = current.ErrandNumber // 编号不可变
	stored.Version = current.Version + 1
	r.errands[errand.ID] = stored
	errand.Version = stored.Version
	return nil
}

// Put 直接写入（测试数据准备用，不做检查）
func (r *MemoryErrandRepository) Put(errand *domain.Errand) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if errand.ID == 0 {
		r.nextID++
		errand.ID = r.nextID
	} else if errand.ID > r.nextID {
		r.nextID = errand.ID
	}
	r.errands[errand.ID] = errand.Clone()
}

func (r *MemoryErrandRepository) sorted() []*domain.Errand {
	out := make([]*domain.Errand, 0, len(r.errands))
	for _, e := range r.errands {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
