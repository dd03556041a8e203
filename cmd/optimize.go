package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"yqhp/optimization-engine/api/rest"
	"yqhp/optimization-engine/internal/config"
	"yqhp/optimization-engine/internal/harness"
	"yqhp/optimization-engine/internal/optimizer"
	"yqhp/optimization-engine/internal/processor"
	"yqhp/optimization-engine/internal/producer"
	"yqhp/optimization-engine/internal/scorer"
	"yqhp/optimization-engine/internal/session"
	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

var (
	// optimize 命令的 flags
	optCycles      int
	optBatchSize   int
	optParallelism int
	optThreshold   float64
	optDistributed bool
	optJSONOutput  string
)

// optimizeCmd 是 optimize 子命令
var optimizeCmd = &cobra.Command{
	Use:   "optimize <inputs.yaml>",
	Short: "运行自适应批量优化循环",
	Long: `读取输入文件并运行优化循环。

每个循环对一批输入并行执行收敛会话，然后由优化器分析
本批得分趋势，直到判定收敛或达到循环上限。

输入文件为 YAML 格式：

  domain: 电商
  data_type: 商品描述
  mode: 生成
  inputs:
    - "描述一款无线耳机"
    - "描述一台咖啡机"

也接受纯文本文件，每行一个输入。`,
	Example: `  # 基本执行
  optimization-engine optimize inputs.yaml

  # 指定循环次数和批大小
  optimization-engine optimize -c 5 --batch-size 4 inputs.yaml

  # 分布式模式：会话通过任务队列的 worker 池执行
  optimization-engine optimize --distributed inputs.yaml

  # 输出 JSON 报告到文件
  optimization-engine optimize --out-json report.json inputs.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().IntVarP(&optCycles, "cycles", "c", 10, "优化循环次数上限")
	optimizeCmd.Flags().IntVar(&optBatchSize, "batch-size", 0, "每批输入数 (覆盖配置)")
	optimizeCmd.Flags().IntVarP(&optParallelism, "parallelism", "p", 0, "并行会话数 (覆盖配置)")
	optimizeCmd.Flags().Float64Var(&optThreshold, "threshold", 0, "收敛阈值 (覆盖配置)")
	optimizeCmd.Flags().BoolVar(&optDistributed, "distributed", false, "通过分布式任务队列执行会话")
	optimizeCmd.Flags().StringVar(&optJSONOutput, "out-json", "", "输出 JSON 报告到文件")
}

// inputSpec 是输入文件的结构
type inputSpec struct {
	Domain   string   `yaml:"domain"`
	DataType string   `yaml:"data_type"`
	Mode     string   `yaml:"mode"`
	Hints    []string `yaml:"hints"`
	Inputs   []string `yaml:"inputs"`
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	// 命令行参数覆盖
	if optBatchSize > 0 {
		cfg.Harness.BatchSize = optBatchSize
	}
	if optParallelism > 0 {
		cfg.Harness.Parallelism = optParallelism
	}
	if optThreshold > 0 {
		cfg.Optimizer.ConvergenceThreshold = optThreshold
		cfg.Session.ConvergenceThreshold = optThreshold
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if quiet {
		cfg.Logging.Level = "error"
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	log := logger.New(logger.ParseLevel(cfg.Logging.Level))

	spec, err := loadInputSpec(args[0])
	if err != nil {
		return fmt.Errorf("解析输入文件失败: %w", err)
	}
	if len(spec.Inputs) == 0 {
		return fmt.Errorf("输入文件不含任何输入")
	}

	// 创建可取消的上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 处理关闭信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n正在中止优化...")
		cancel()
	}()

	prod, err := buildProducer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("创建 producer 失败: %w", err)
	}
	scr, err := buildScorer(cfg, log)
	if err != nil {
		return fmt.Errorf("创建 scorer 失败: %w", err)
	}

	proc := processor.NewDistributedProcessor(&cfg.Processor, log)

	// 状态服务
	var srv *rest.Server
	if cfg.Server.Enabled {
		srv = rest.NewServer(&cfg.Server, proc, log)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("启动状态服务失败: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	if !quiet {
		printOptimizeInfo(spec, cfg)
	}

	h := harness.New(prod, scr, &cfg.Harness, &cfg.Session, log)
	opt := optimizer.New(&cfg.Optimizer, log)

	var batches []*types.HarnessResult
	var finalReport *types.OptimizationReport

	for cycle := 1; cycle <= optCycles; cycle++ {
		if ctx.Err() != nil {
			break
		}

		inputs, contexts := nextBatch(spec, cfg.Harness.BatchSize, cycle-1)

		var batch *types.HarnessResult
		if optDistributed {
			batch, err = runDistributedBatch(ctx, proc, prod, scr, &cfg.Session, log, inputs, contexts)
		} else {
			batch, err = h.RunBatch(ctx, inputs, contexts)
		}
		if err != nil {
			return fmt.Errorf("第 %d 轮批量执行失败: %w", cycle, err)
		}
		batches = append(batches, batch)

		report := opt.AnalyzeBatch(batch.Sessions)
		finalReport = report

		if srv != nil {
			srv.RecordBatch(batch)
			srv.RecordReport(report)
		}

		if !quiet {
			printCycleSummary(cycle, batch, report)
		}

		if report.Convergence == types.ConvergenceConverged {
			if !quiet {
				fmt.Printf("\n第 %d 轮判定收敛，提前结束。\n", cycle)
			}
			break
		}
	}

	// 跨批趋势分析
	if len(batches) > 1 {
		finalReport = opt.AnalyzeTrends(batches)
	}

	if !quiet && finalReport != nil {
		printFinalReport(finalReport, len(batches))
	}

	if optJSONOutput != "" && finalReport != nil {
		if err := writeJSONReport(optJSONOutput, batches, finalReport); err != nil {
			return fmt.Errorf("写入 JSON 报告失败: %w", err)
		}
		if !quiet {
			fmt.Printf("\n报告已写入: %s\n", optJSONOutput)
		}
	}

	return nil
}

// loadInputSpec parses an input file. YAML first; a file that does not parse
// as a mapping is treated as one input per non-empty line.
func loadInputSpec(path string) (*inputSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	spec := &inputSpec{}
	if err := yaml.Unmarshal(data, spec); err == nil && len(spec.Inputs) > 0 {
		return spec, nil
	}

	spec = &inputSpec{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		spec.Inputs = append(spec.Inputs, line)
	}
	return spec, nil
}

// nextBatch draws a rotating window of BatchSize inputs for the given cycle.
func nextBatch(spec *inputSpec, batchSize, cycle int) ([]string, []*types.ProduceContext) {
	n := len(spec.Inputs)
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}

	inputs := make([]string, 0, batchSize)
	contexts := make([]*types.ProduceContext, 0, batchSize)
	offset := (cycle * batchSize) % n
	for i := 0; i < batchSize; i++ {
		inputs = append(inputs, spec.Inputs[(offset+i)%n])
		contexts = append(contexts, &types.ProduceContext{
			Domain:   spec.Domain,
			DataType: spec.DataType,
			Mode:     spec.Mode,
			Hints:    spec.Hints,
		})
	}
	return inputs, contexts
}

// distributedPayload 是分布式模式下每个任务的载荷
type distributedPayload struct {
	Input   string
	Context *types.ProduceContext
}

// runDistributedBatch executes one batch through the task-queue worker pool
// instead of the harness pool. Each task runs one full session.
func runDistributedBatch(ctx context.Context, proc *processor.DistributedProcessor, prod types.Producer, scr types.Scorer, sessionCfg *types.SessionConfig, log logger.Logger, inputs []string, contexts []*types.ProduceContext) (*types.HarnessResult, error) {
	items := make([]any, len(inputs))
	for i, input := range inputs {
		items[i] = &distributedPayload{Input: input, Context: contexts[i]}
	}

	// 会话自身的失败体现在 SessionResult 里；只有 panic 才算任务失败，
	// 由 worker 池按 max_retries 重新入队。
	fn := func(payload any) (any, error) {
		p := payload.(*distributedPayload)
		s := session.New(prod, scr, sessionCfg, log)
		return s.Run(ctx, p.Input, p.Context), nil
	}

	dres, err := proc.ProcessDistributed(items, fn, nil)
	if err != nil {
		return nil, err
	}

	// 按任务 ID 回查结果，失败任务按失败会话计入统计。
	sessions := make([]*types.SessionResult, len(inputs))
	for i := range inputs {
		task, ok := proc.GetTask(processor.TaskID(i, items[i]))
		if ok && task.Status == types.TaskStatusCompleted {
			if sr, cast := task.Result.(*types.SessionResult); cast {
				sessions[i] = sr
				continue
			}
		}
		sessions[i] = &types.SessionResult{
			Input: inputs[i],
			State: types.SessionStateFailed,
		}
	}

	return harness.Aggregate(dres.RunID, sessions), nil
}

func buildProducer(ctx context.Context, cfg *config.Config, log logger.Logger) (types.Producer, error) {
	switch cfg.Producer.Type {
	case "llm":
		return producer.NewLLMProducer(ctx, &cfg.Producer.LLM, log)
	case "http":
		return producer.NewHTTPProducer(&cfg.Producer.HTTP, log), nil
	default:
		return nil, fmt.Errorf("未知的 producer 类型: %s", cfg.Producer.Type)
	}
}

func buildScorer(cfg *config.Config, log logger.Logger) (types.Scorer, error) {
	switch cfg.Scorer.Type {
	case "jsonpath":
		return scorer.NewJSONPathScorer(&cfg.Scorer.JSONPath, log)
	case "script":
		return scorer.NewScriptScorer(&cfg.Scorer.Script, log)
	case "http":
		return scorer.NewHTTPScorer(&cfg.Scorer.HTTP, log), nil
	default:
		return nil, fmt.Errorf("未知的 scorer 类型: %s", cfg.Scorer.Type)
	}
}

func printOptimizeInfo(spec *inputSpec, cfg *config.Config) {
	fmt.Printf(Banner, Version)
	fmt.Println()
	fmt.Printf("  输入数: %d\n", len(spec.Inputs))
	if spec.Domain != "" {
		fmt.Printf("  领域: %s\n", spec.Domain)
	}
	if spec.DataType != "" {
		fmt.Printf("  数据类型: %s\n", spec.DataType)
	}
	fmt.Printf("  批大小: %d\n", cfg.Harness.BatchSize)
	fmt.Printf("  并行度: %d\n", cfg.Harness.Parallelism)
	fmt.Printf("  收敛阈值: %.2f\n", cfg.Optimizer.ConvergenceThreshold)
	if optDistributed {
		fmt.Printf("  执行模式: 分布式 (%d workers)\n", cfg.Processor.NumWorkers)
	} else {
		fmt.Printf("  执行模式: 并行批量\n")
	}
	fmt.Println()
	fmt.Println("执行中...")
	fmt.Println()
}

func printCycleSummary(cycle int, batch *types.HarnessResult, report *types.OptimizationReport) {
	fmt.Printf("循环 %d: %d/%d 成功, 平均分 %.3f, 最高分 %.3f, 趋势 %s, 判定 %s\n",
		cycle, batch.Successful, batch.Total, batch.AverageScore, batch.BestScore,
		report.Trend, report.Convergence)
}

func printFinalReport(report *types.OptimizationReport, cycles int) {
	fmt.Println()
	fmt.Println("========== 优化报告 ==========")
	fmt.Printf("  循环数: %d\n", cycles)
	fmt.Printf("  平均分: %.3f\n", report.AverageScore)
	fmt.Printf("  趋势: %s\n", report.Trend)
	fmt.Printf("  收敛判定: %s\n", report.Convergence)
	fmt.Printf("  改进速率: %.4f\n", report.ImprovementRate)

	if len(report.Dimensions) > 0 {
		fmt.Println("  维度统计:")
		for dim, stats := range report.Dimensions {
			fmt.Printf("    %s: mean=%.3f min=%.3f max=%.3f n=%d\n",
				dim, stats.Mean, stats.Min, stats.Max, stats.Count)
		}
	}
	if len(report.Insights) > 0 {
		fmt.Println("  洞察:")
		for _, insight := range report.Insights {
			fmt.Printf("    - %s\n", insight)
		}
	}
	if len(report.Recommendations) > 0 {
		fmt.Println("  建议:")
		for _, rec := range report.Recommendations {
			fmt.Printf("    - %s\n", rec)
		}
	}
}

func writeJSONReport(path string, batches []*types.HarnessResult, report *types.OptimizationReport) error {
	out := struct {
		Report  *types.OptimizationReport `json:"report"`
		Batches []*types.HarnessResult    `json:"batches"`
	}{Report: report, Batches: batches}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
