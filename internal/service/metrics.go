package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Доменные метрики распределения строк.
var (
	allocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allocation_allocations_total",
		Help: "Количество выданных диапазонов строк",
	})

	allocatedRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allocation_allocated_rows_total",
		Help: "Количество выданных строк",
	})

	capacityRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allocation_capacity_rejections_total",
		Help: "Отказы в выдаче из-за нехватки строк",
	})

	reviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_reviews_total",
		Help: "Проверки заявок по решению",
	}, []string{"decision"})

	requestTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_request_transitions_total",
		Help: "Переходы заявок по действию",
	}, []string{"action"})

	automationRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allocation_automation_records_total",
		Help: "Принятые дневные отчёты automation-процессов",
	})

	processCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_process_completions_total",
		Help: "Завершения процессов по причине",
	}, []string{"reason"})
)
