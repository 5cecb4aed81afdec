// Пакет ledger - учёт строк процесса и выдача диапазонов.
//
// Счётчики процесса связаны тождеством
//
//	available + allocated + processed == total - header
//
// Диапазоны выдаются сначала из списка освобождённых (first-fit),
// затем с хвоста: следующий диапазон начинается с high_water_row + 1.
// Функции пакета чистые: вызывающий код отвечает за сериализацию
// по процессу и за сохранение результата в одной транзакции.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
)

var (
	// ErrNonPositive - запрошено неположительное количество строк.
	ErrNonPositive = errors.New("количество строк должно быть больше нуля")
	// ErrInsufficient - запрошено больше, чем доступно.
	ErrInsufficient = errors.New("недостаточно доступных строк")
	// ErrFragmented - строки доступны, но не одним непрерывным диапазоном.
	ErrFragmented = errors.New("нет непрерывного диапазона нужного размера")
	// ErrUnbalanced - нарушено тождество счётчиков.
	ErrUnbalanced = errors.New("нарушен баланс счётчиков процесса")
)

// Check проверяет тождество счётчиков и их неотрицательность.
func Check(p *model.FileProcess) error {
	if p.AvailableRows < 0 || p.AllocatedRows < 0 || p.ProcessedRows < 0 {
		return fmt.Errorf("%w: available=%d allocated=%d processed=%d",
			ErrUnbalanced, p.AvailableRows, p.AllocatedRows, p.ProcessedRows)
	}
	if p.AvailableRows+p.AllocatedRows+p.ProcessedRows != p.DataRows() {
		return fmt.Errorf("%w: %d + %d + %d != %d",
			ErrUnbalanced, p.AvailableRows, p.AllocatedRows, p.ProcessedRows, p.DataRows())
	}
	return nil
}

// Init заполняет счётчики нового процесса.
func Init(p *model.FileProcess) {
	p.AvailableRows = p.DataRows()
	p.AllocatedRows = 0
	p.ProcessedRows = 0
	p.HighWaterRow = p.HeaderRows
}

// TailCapacity возвращает количество строк, ещё не выданных с хвоста.
func TailCapacity(p *model.FileProcess) int64 {
	return p.TotalRows - max(p.HighWaterRow, p.HeaderRows)
}

// MaxContiguous возвращает размер наибольшего диапазона, который можно
// выдать одной заявке.
func MaxContiguous(p *model.FileProcess, free []model.RowRange) int64 {
	best := TailCapacity(p)
	for _, r := range free {
		best = max(best, r.Len())
	}
	return min(best, p.AvailableRows)
}

// Allocate выдаёт диапазон из n строк и обновляет счётчики процесса.
// Возвращает выданный диапазон и новый список свободных диапазонов.
// При ошибке процесс и список не изменяются.
func Allocate(p *model.FileProcess, free []model.RowRange, n int64) (model.RowRange, []model.RowRange, error) {
	if n <= 0 {
		return model.RowRange{}, free, ErrNonPositive
	}
	if n > p.AvailableRows {
		return model.RowRange{}, free, fmt.Errorf("%w: запрошено %d, доступно %d",
			ErrInsufficient, n, p.AvailableRows)
	}

	sorted := Normalize(free)
	for i, r := range sorted {
		if r.Len() < n {
			continue
		}
		issued := model.RowRange{Start: r.Start, End: r.Start + n - 1}
		rest := make([]model.RowRange, 0, len(sorted))
		rest = append(rest, sorted[:i]...)
		if issued.End < r.End {
			rest = append(rest, model.RowRange{Start: issued.End + 1, End: r.End})
		}
		rest = append(rest, sorted[i+1:]...)

		p.AvailableRows -= n
		p.AllocatedRows += n
		return issued, rest, nil
	}

	if TailCapacity(p) < n {
		return model.RowRange{}, free, fmt.Errorf("%w: запрошено %d, максимум %d",
			ErrFragmented, n, MaxContiguous(p, sorted))
	}

	start := max(p.HighWaterRow, p.HeaderRows) + 1
	issued := model.RowRange{Start: start, End: start + n - 1}
	p.HighWaterRow = issued.End
	p.AvailableRows -= n
	p.AllocatedRows += n
	return issued, sorted, nil
}

// Release возвращает выданный диапазон в пул свободных строк.
func Release(p *model.FileProcess, free []model.RowRange, r model.RowRange) []model.RowRange {
	p.AllocatedRows -= r.Len()
	p.AvailableRows += r.Len()
	return Normalize(append(append([]model.RowRange(nil), free...), r))
}

// Commit переводит n выданных строк в обработанные.
func Commit(p *model.FileProcess, n int64) {
	p.AllocatedRows -= n
	p.ProcessedRows += n
}

// ApplyAutomationDelta применяет исправление дневного отчёта: прежнее
// значение oldCount заменяется на newCount.
func ApplyAutomationDelta(p *model.FileProcess, oldCount, newCount int64) error {
	if newCount < 0 {
		return ErrNonPositive
	}
	delta := newCount - oldCount
	if p.AvailableRows-delta < 0 {
		return fmt.Errorf("%w: отчёт превышает остаток на %d строк",
			ErrInsufficient, delta-p.AvailableRows)
	}
	if p.ProcessedRows+delta < 0 {
		return fmt.Errorf("%w: processed станет отрицательным", ErrUnbalanced)
	}
	p.ProcessedRows += delta
	p.AvailableRows -= delta
	return nil
}

// Normalize сортирует диапазоны и склеивает соседние.
func Normalize(ranges []model.RowRange) []model.RowRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]model.RowRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := sorted[:1]
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+1 {
			last.End = max(last.End, r.End)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
