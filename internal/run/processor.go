package run

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "ToolFlow/internal/errors"
	"ToolFlow/internal/observability/alerting"
	"ToolFlow/internal/plan"
	"ToolFlow/pkg/logger"
)

// Executor 定义了处理器所需的执行引擎能力。
type Executor interface {
	Execute(ctx context.Context, p *plan.ExecutionPlan) (*plan.ExecutionResult, error)
}

// Processor 负责从队列消费运行并交给执行引擎处理。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动运行处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	r, err := p.store.Claim(ctx, runID)
	if err != nil {
		if stdErrors.Is(err, ErrRunNotFound) || stdErrors.Is(err, ErrRunCompleted) || stdErrors.Is(err, ErrRunExhausted) {
			p.logDebug("跳过运行", slog.String("run_id", runID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取运行失败", slog.Any("error", err), slog.String("run_id", runID))
		p.emitAlert(ctx, &Run{ID: runID}, CodeRunProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, r.Plan)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, r, execErr)
	}
	if result != nil && !result.OverallSuccess {
		return p.handleExecutionFailure(ctx, r, failureFromResult(result))
	}

	var record plan.ExecutionResult
	if result != nil {
		record = *result
	}
	if err := p.store.MarkSucceeded(ctx, r.ID, record); err != nil {
		logger.L().Error("标记运行成功状态失败", slog.Any("error", err), slog.String("run_id", r.ID))
		if storeErr := p.store.MarkFailed(ctx, r.ID, CodeRunProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("run_id", r.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, r.ID); pubErr != nil {
			return xerrors.Wrap(CodeRunPublish, pubErr, fmt.Sprintf("运行 %s 在标记成功失败后重投失败", r.ID))
		}
		logger.Audit().Warn("运行标记成功失败后重试",
			slog.String("run_id", r.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	logger.Audit().Info("运行执行成功",
		slog.String("run_id", r.ID),
		slog.String("strategy", string(record.Strategy)),
		slog.Int("outcomes", len(record.Outcomes)),
	)
	return nil
}

// failureFromResult 将失败的执行结果折算成带错误码的 error，
// 以便按第一个失败步骤的错误码决定是否重试。
func failureFromResult(result *plan.ExecutionResult) error {
	for _, outcome := range result.Outcomes {
		if outcome.Success {
			continue
		}
		code := outcome.ErrorCode
		if code == "" {
			code = CodeRunProcessing
		}
		return xerrors.New(code, fmt.Sprintf("步骤 %d (%s) 失败: %s", outcome.Step, outcome.ToolName, outcome.ErrorMessage))
	}
	return xerrors.New(CodeRunProcessing, "计划执行未成功")
}

func (p *Processor) handleExecutionFailure(ctx context.Context, r *Run, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeRunProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := r.Attempts >= r.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, r, execErr); recErr != nil {
			wrapped := xerrors.Wrap(CodeRunCompensate, recErr, "运行补偿失败")
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", wrapped),
				slog.String("run_id", r.ID))
			p.emitAlert(ctx, r, CodeRunCompensate, wrapped, "compensate")
		} else if fallback != nil {
			if err := p.store.MarkSucceeded(ctx, r.ID, *fallback); err != nil {
				logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("run_id", r.ID))
				if storeErr := p.store.MarkFailed(ctx, r.ID, code, err.Error(), false); storeErr != nil {
					logger.L().Error("降级失败后的回写失败状态出错", slog.Any("error", storeErr), slog.String("run_id", r.ID))
					return storeErr
				}
				if pubErr := p.producer.Publish(ctx, r.ID); pubErr != nil {
					return xerrors.Wrap(CodeRunPublish, pubErr, fmt.Sprintf("运行 %s 在降级失败后重投失败", r.ID))
				}
				return nil
			}
			logger.Audit().Warn("运行降级完成",
				slog.String("run_id", r.ID),
				slog.String("cause", execErr.Error()),
			)
			p.emitAlert(ctx, r, code, execErr, "degraded")
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, r.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记运行失败状态出错", slog.Any("error", storeErr), slog.String("run_id", r.ID))
		return storeErr
	}
	logger.Audit().Warn("运行执行失败",
		slog.String("run_id", r.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", r.Attempts),
		slog.Int("max_retries", r.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, r, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, r.ID); pubErr != nil {
			return xerrors.Wrap(CodeRunPublish, pubErr, fmt.Sprintf("运行 %s 重投失败", r.ID))
		}
		p.logDebug("运行已重新排队", slog.String("run_id", r.ID), slog.Int("attempts", r.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, r *Run, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || r == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		RunID:      r.ID,
		Attempts:   r.Attempts,
		MaxRetries: r.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("run_id", r.ID),
			slog.String("stage", stage),
		)
	}
}
