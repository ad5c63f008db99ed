package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Research execution bounds.
const (
	minResearchAgents = 1
	maxResearchAgents = 5

	subAgentTimeout = 5 * time.Minute
	subAgentRetries = 2

	// DefaultResultTTL bounds how long compiled results stay retrievable.
	DefaultResultTTL = 24 * time.Hour

	sweepInterval = time.Hour
)

// PlanStatus is the lifecycle of a research run.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanPlanning  PlanStatus = "planning"
	PlanRunning   PlanStatus = "running"
	PlanCompiling PlanStatus = "compiling"
	PlanDone      PlanStatus = "done"
	PlanPartial   PlanStatus = "partial"
	PlanFailed    PlanStatus = "failed"
)

// AgentState is the lifecycle of one sub-agent within a plan.
type AgentState string

const (
	AgentPending AgentState = "pending"
	AgentRunning AgentState = "running"
	AgentSuccess AgentState = "success"
	AgentSkipped AgentState = "skipped"
	AgentFailed  AgentState = "failed"
)

// ResearchPlan is a validated multi-agent research plan. Agents form a DAG
// via DependsOn indices into the Agents slice.
type ResearchPlan struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Objective string         `json:"objective"`
	Query     string         `json:"query"`
	CreatedAt int64          `json:"created_at"`
	Agents    []SubAgentPlan `json:"agents"`
}

type SubAgentPlan struct {
	ID           string   `json:"id"`
	Perspective  string   `json:"perspective"`
	Instructions string   `json:"instructions"`
	Queries      []string `json:"queries"`
	DependsOn    []int    `json:"depends_on,omitempty"`
}

// AgentOutcome is the result of one sub-agent execution.
type AgentOutcome struct {
	Perspective string
	State       AgentState
	Section     string
	Citations   []string
	Usage       Usage
	Attempts    int
	Duration    time.Duration
	Err         string
}

// ResearchStatus is the externally visible state of a run.
type ResearchStatus struct {
	PlanID    string            `json:"plan_id"`
	Status    PlanStatus        `json:"status"`
	Agents    []AgentStatusView `json:"agents"`
	StartedAt int64             `json:"started_at"`
	UpdatedAt int64             `json:"updated_at"`
	Error     string            `json:"error,omitempty"`
}

type AgentStatusView struct {
	Perspective string     `json:"perspective"`
	State       AgentState `json:"state"`
}

// ResearchResult is the compiled artifact of a finished run. Status is
// PlanDone when every sub-agent succeeded, PlanPartial when the report was
// compiled with failed or skipped sub-agents.
type ResearchResult struct {
	PlanID       string     `json:"plan_id"`
	Status       PlanStatus `json:"status"`
	Title        string     `json:"title"`
	Query        string     `json:"query"`
	Markdown     string     `json:"markdown"`
	Summary      string     `json:"summary"`
	Artifact     []byte     `json:"artifact,omitempty"`
	ArtifactMIME string     `json:"artifact_mime,omitempty"`
	Usage        Usage      `json:"usage"`
	CreatedAt    int64      `json:"created_at"`
	ExpiresAt    int64      `json:"expires_at"`
}

// Orchestrator plans and runs deep research: it asks the large model for a
// sub-agent plan, executes the plan as a dependency graph on the
// coordinator, compiles the sections into a report, and caches the result
// with a TTL.
type Orchestrator struct {
	planner     Adapter
	synthesizer Adapter
	registry    *Registry
	diversity   *DiversityValidator
	coordinator *Coordinator
	store       ResultStore
	ingest      Ingestor
	retrieve    Retriever
	renderer    Renderer
	ttl         time.Duration

	agentTimeout time.Duration
	agentRetries int
	logger      *slog.Logger
	tracer      Tracer
	observe     func(planID string, status PlanStatus, agents int, elapsed time.Duration)

	mu   sync.Mutex
	runs map[string]*researchRun

	stop chan struct{}
	once sync.Once
}

type researchRun struct {
	mu        sync.Mutex
	plan      ResearchPlan
	status    PlanStatus
	states    []AgentState
	outcomes  []AgentOutcome
	startedAt int64
	updatedAt int64
	err       string
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// ResearchStore sets the result store (default: in-memory).
func ResearchStore(s ResultStore) OrchestratorOption {
	return func(o *Orchestrator) { o.store = s }
}

// ResearchIngestor enables report ingestion into the RAG collaborator.
func ResearchIngestor(i Ingestor) OrchestratorOption {
	return func(o *Orchestrator) { o.ingest = i }
}

// ResearchRetriever enables RAG context for the final summary pass.
func ResearchRetriever(r Retriever) OrchestratorOption {
	return func(o *Orchestrator) { o.retrieve = r }
}

// ResearchRenderer enables artifact rendering of the compiled report.
func ResearchRenderer(r Renderer) OrchestratorOption {
	return func(o *Orchestrator) { o.renderer = r }
}

// ResearchTTL overrides the result TTL (default 24h).
func ResearchTTL(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.ttl = d }
}

// ResearchAgentTimeout overrides the per-attempt sub-agent deadline
// (default 5m).
func ResearchAgentTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.agentTimeout = d
		}
	}
}

// ResearchAgentRetries overrides how many times a failed sub-agent attempt
// is retried (default 2; 0 means a single attempt).
func ResearchAgentRetries(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.agentRetries = n
		}
	}
}

// ResearchLogger sets the structured logger.
func ResearchLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// ResearchTracer sets the tracer.
func ResearchTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// ResearchObserver registers a callback invoked once per run when it
// reaches a terminal state.
func ResearchObserver(fn func(planID string, status PlanStatus, agents int, elapsed time.Duration)) OrchestratorOption {
	return func(o *Orchestrator) { o.observe = fn }
}

// NewOrchestrator creates an orchestrator. planner generates plans and the
// final summary, synthesizer writes sections, registry provides search
// tools, coordinator runs sub-agents.
func NewOrchestrator(planner, synthesizer Adapter, registry *Registry, diversity *DiversityValidator, coordinator *Coordinator, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		planner:     planner,
		synthesizer: synthesizer,
		registry:    registry,
		diversity:   diversity,
		coordinator: coordinator,
		ttl:         DefaultResultTTL,
		runs:        make(map[string]*researchRun),
		stop:        make(chan struct{}),

		agentTimeout: subAgentTimeout,
		agentRetries: subAgentRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = nopLogger
	}
	if o.store == nil {
		o.store = NewMemoryResultStore()
	}
	go o.sweep()
	return o
}

// Close stops the expiry sweeper.
func (o *Orchestrator) Close() {
	o.once.Do(func() { close(o.stop) })
}

// --- planning ---

const planPrompt = `You are a research planner. Break the user's request into
focused sub-agent assignments. Respond with ONLY a JSON object, no prose:

{
  "title": "report title",
  "objective": "one-sentence research objective",
  "agents": [
    {
      "perspective": "angle this agent covers",
      "instructions": "what this agent should produce",
      "queries": ["search query 1", "search query 2"],
      "depends_on": []
    }
  ]
}

Use 1 to 5 agents. depends_on lists zero-based indexes of agents whose
output this agent needs; leave it empty when independent. Queries across
agents must cover distinct ground.`

// Plan asks the planner model for a research plan, validates the dependency
// graph, and rewrites redundant queries for diversity.
func (o *Orchestrator) Plan(ctx context.Context, query string) (ResearchPlan, error) {
	if o.tracer != nil {
		var span Span
		ctx, span = o.tracer.Start(ctx, "research.plan")
		defer span.End()
	}

	env, err := o.planner.Generate(ctx, ChatRequest{
		Model: o.planner.Describe().ID,
		Messages: []Message{
			SystemMessage(planPrompt),
			UserMessage(query),
		},
	})
	if err != nil {
		return ResearchPlan{}, fmt.Errorf("plan generation: %w", err)
	}

	var doc struct {
		Title     string `json:"title"`
		Objective string `json:"objective"`
		Agents    []struct {
			Perspective  string   `json:"perspective"`
			Instructions string   `json:"instructions"`
			Queries      []string `json:"queries"`
			DependsOn    []int    `json:"depends_on"`
		} `json:"agents"`
	}
	raw := extractJSON(env.Text())
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ResearchPlan{}, fmt.Errorf("%w: %v", ErrPlanInvalid, err)
	}
	if len(doc.Agents) < minResearchAgents {
		return ResearchPlan{}, fmt.Errorf("%w: no agents", ErrPlanInvalid)
	}
	if len(doc.Agents) > maxResearchAgents {
		doc.Agents = doc.Agents[:maxResearchAgents]
	}

	plan := ResearchPlan{
		ID:        NewID(),
		Title:     doc.Title,
		Objective: doc.Objective,
		Query:     query,
		CreatedAt: NowUnix(),
	}
	for _, a := range doc.Agents {
		plan.Agents = append(plan.Agents, SubAgentPlan{
			ID:           NewID(),
			Perspective:  a.Perspective,
			Instructions: a.Instructions,
			Queries:      a.Queries,
			DependsOn:    a.DependsOn,
		})
	}
	if err := validatePlanDAG(plan); err != nil {
		return ResearchPlan{}, err
	}

	o.diversifyQueries(&plan)
	return plan, nil
}

// validatePlanDAG rejects out-of-range, self, and cyclic dependencies.
func validatePlanDAG(plan ResearchPlan) error {
	n := len(plan.Agents)
	for i, a := range plan.Agents {
		for _, d := range a.DependsOn {
			if d < 0 || d >= n {
				return fmt.Errorf("%w: agent %d depends on unknown agent %d", ErrPlanInvalid, i, d)
			}
			if d == i {
				return fmt.Errorf("%w: agent %d depends on itself", ErrPlanInvalid, i)
			}
		}
	}
	// Cycle check by repeated removal of zero in-degree nodes.
	indeg := make([]int, n)
	for i := range plan.Agents {
		indeg[i] = len(plan.Agents[i].DependsOn)
	}
	removed := 0
	ready := make([]int, 0, n)
	dependents := dependentsOf(plan)
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		i := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		removed++
		for _, dep := range dependents[i] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if removed != n {
		return fmt.Errorf("%w: dependency cycle", ErrPlanInvalid)
	}
	return nil
}

// dependentsOf inverts the DependsOn edges.
func dependentsOf(plan ResearchPlan) [][]int {
	deps := make([][]int, len(plan.Agents))
	for i, a := range plan.Agents {
		for _, d := range a.DependsOn {
			deps[d] = append(deps[d], i)
		}
	}
	return deps
}

// diversifyQueries runs the validator across every agent's queries as one
// set and writes rewrites back in place.
func (o *Orchestrator) diversifyQueries(plan *ResearchPlan) {
	if o.diversity == nil {
		return
	}
	var all []string
	for _, a := range plan.Agents {
		all = append(all, a.Queries...)
	}
	if len(all) < 2 || o.diversity.Diverse(all) {
		return
	}
	rewritten := o.diversity.Diversify(all)
	k := 0
	for i := range plan.Agents {
		for j := range plan.Agents[i].Queries {
			plan.Agents[i].Queries[j] = rewritten[k]
			k++
		}
	}
}

// extractJSON pulls the first fenced JSON block out of model output, or
// falls back to the outermost braces, or the raw text.
func extractJSON(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// --- execution ---

// Start plans and launches a research run, returning the plan ID
// immediately. Progress is observable via Status, the compiled report via
// Result once done.
func (o *Orchestrator) Start(ctx context.Context, query string) (string, error) {
	plan, err := o.Plan(ctx, query)
	if err != nil {
		return "", err
	}
	return o.Launch(plan)
}

// Launch runs an already validated plan in the background.
func (o *Orchestrator) Launch(plan ResearchPlan) (string, error) {
	if err := validatePlanDAG(plan); err != nil {
		return "", err
	}
	run := &researchRun{
		plan:      plan,
		status:    PlanPending,
		states:    make([]AgentState, len(plan.Agents)),
		outcomes:  make([]AgentOutcome, len(plan.Agents)),
		startedAt: NowUnix(),
		updatedAt: NowUnix(),
	}
	for i := range run.states {
		run.states[i] = AgentPending
	}
	o.mu.Lock()
	o.runs[plan.ID] = run
	o.mu.Unlock()

	go o.execute(run)
	return plan.ID, nil
}

// Status reports the current state of a run.
func (o *Orchestrator) Status(planID string) (ResearchStatus, error) {
	o.mu.Lock()
	run, ok := o.runs[planID]
	o.mu.Unlock()
	if !ok {
		return ResearchStatus{}, fmt.Errorf("%w: plan %q", ErrNotFound, planID)
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	st := ResearchStatus{
		PlanID:    planID,
		Status:    run.status,
		StartedAt: run.startedAt,
		UpdatedAt: run.updatedAt,
		Error:     run.err,
	}
	for i, a := range run.plan.Agents {
		st.Agents = append(st.Agents, AgentStatusView{Perspective: a.Perspective, State: run.states[i]})
	}
	return st, nil
}

// Result returns the compiled report for a finished run. Expired results
// return ErrExpired.
func (o *Orchestrator) Result(ctx context.Context, planID string) (ResearchResult, error) {
	res, err := o.store.GetResult(ctx, planID)
	if err != nil {
		return ResearchResult{}, err
	}
	if res.ExpiresAt > 0 && res.ExpiresAt < NowUnix() {
		return ResearchResult{}, fmt.Errorf("%w: plan %q", ErrExpired, planID)
	}
	return res, nil
}

// execute runs the plan DAG: agents launch as soon as all their dependencies
// succeeded; a failed or skipped dependency skips the dependent subtree. The
// plan fails only when every agent failed.
func (o *Orchestrator) execute(run *researchRun) {
	ctx := context.Background()
	if o.tracer != nil {
		var span Span
		ctx, span = o.tracer.Start(ctx, "research.execute",
			StringAttr("plan.id", run.plan.ID),
			IntAttr("plan.agents", len(run.plan.Agents)))
		defer span.End()
	}

	run.setStatus(PlanRunning)
	plan := run.plan
	n := len(plan.Agents)
	dependents := dependentsOf(plan)

	start := time.Now()
	if o.observe != nil {
		defer func() {
			run.mu.Lock()
			status := run.status
			run.mu.Unlock()
			o.observe(plan.ID, status, n, time.Since(start))
		}()
	}

	indeg := make([]int, n)
	for i := range plan.Agents {
		indeg[i] = len(plan.Agents[i].DependsOn)
	}

	type event struct {
		idx int
		ok  bool
	}
	events := make(chan event, n)
	launched := make([]bool, n)
	finished := 0

	var launch func(i int)
	launch = func(i int) {
		launched[i] = true
		run.setState(i, AgentRunning)
		agent := plan.Agents[i]
		handle, err := o.coordinator.Submit(len(dependents[i]), func(taskCtx context.Context) error {
			outcome := o.runAgentWithRetry(taskCtx, plan, agent)
			run.setOutcome(i, outcome)
			if outcome.State != AgentSuccess {
				return fmt.Errorf("sub-agent %q: %s", agent.Perspective, outcome.Err)
			}
			return nil
		})
		if err != nil {
			run.setOutcome(i, AgentOutcome{Perspective: agent.Perspective, State: AgentFailed, Err: err.Error()})
			events <- event{idx: i, ok: false}
			return
		}
		go func() {
			_ = handle.Wait(ctx)
			run.mu.Lock()
			ok := run.states[i] == AgentSuccess
			run.mu.Unlock()
			events <- event{idx: i, ok: ok}
		}()
	}

	// skip marks an agent and its whole downstream subtree skipped.
	var skip func(i int)
	skip = func(i int) {
		if launched[i] {
			return
		}
		launched[i] = true
		run.setOutcome(i, AgentOutcome{Perspective: plan.Agents[i].Perspective, State: AgentSkipped, Err: "dependency failed"})
		events <- event{idx: i, ok: false}
	}

	for i := range plan.Agents {
		if indeg[i] == 0 {
			launch(i)
		}
	}

	for finished < n {
		ev := <-events
		finished++
		for _, dep := range dependents[ev.idx] {
			if launched[dep] {
				continue
			}
			if !ev.ok {
				skip(dep)
				continue
			}
			indeg[dep]--
			if indeg[dep] == 0 {
				launch(dep)
			}
		}
	}

	if run.allFailed() {
		run.fail(fmt.Errorf("all sub-agents failed"))
		return
	}

	run.setStatus(PlanCompiling)
	if err := o.compile(ctx, run); err != nil {
		o.logger.Error("research compile failed", "plan", plan.ID, "error", err)
		run.fail(err)
		return
	}
	terminal := PlanDone
	if !run.allSucceeded() {
		terminal = PlanPartial
	}
	run.setStatus(terminal)
	o.logger.Info("research completed", "plan", plan.ID, "status", terminal)
}

// runAgentWithRetry executes one sub-agent with its timeout and retry
// budget. Context cancellation is never retried.
func (o *Orchestrator) runAgentWithRetry(ctx context.Context, plan ResearchPlan, agent SubAgentPlan) AgentOutcome {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= o.agentRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.agentTimeout)
		outcome, err := o.runAgent(attemptCtx, plan, agent)
		cancel()
		if err == nil {
			outcome.Attempts = attempt + 1
			outcome.Duration = time.Since(start)
			return outcome
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		o.logger.Warn("sub-agent attempt failed",
			"plan", plan.ID,
			"perspective", agent.Perspective,
			"attempt", attempt+1,
			"error", err)
	}
	return AgentOutcome{
		Perspective: agent.Perspective,
		State:       AgentFailed,
		Attempts:    o.agentRetries + 1,
		Duration:    time.Since(start),
		Err:         lastErr.Error(),
	}
}

// runAgent searches the agent's queries and synthesizes its section.
func (o *Orchestrator) runAgent(ctx context.Context, plan ResearchPlan, agent SubAgentPlan) (AgentOutcome, error) {
	var findings strings.Builder
	var citations []string
	for _, q := range agent.Queries {
		args, _ := json.Marshal(map[string]string{"query": q})
		tool := ToolMediumSearch
		if _, err := o.registry.Limits(tool); err != nil {
			tool = ToolLightSearch
		}
		content, err := o.registry.Execute(ctx, tool, args)
		if err != nil {
			o.logger.Warn("research search failed", "query", q, "error", err)
			continue
		}
		findings.WriteString("### Findings for: ")
		findings.WriteString(q)
		findings.WriteString("\n\n")
		findings.WriteString(content)
		findings.WriteString("\n\n")
		citations = append(citations, extractURLs(content)...)
	}

	system := fmt.Sprintf(
		"You are a research sub-agent covering the perspective %q for the objective: %s\n\n%s\n\nWrite a focused markdown section. Cite sources inline.",
		agent.Perspective, plan.Objective, agent.Instructions)
	user := fmt.Sprintf("Research question: %s\n\nSearch findings:\n\n%s", plan.Query, findings.String())

	env, err := o.synthesizer.Generate(ctx, ChatRequest{
		Model: o.synthesizer.Describe().ID,
		Messages: []Message{
			SystemMessage(system),
			UserMessage(user),
		},
	})
	if err != nil {
		return AgentOutcome{}, err
	}
	return AgentOutcome{
		Perspective: agent.Perspective,
		State:       AgentSuccess,
		Section:     env.Text(),
		Citations:   dedupe(citations),
		Usage:       env.Usage,
	}, nil
}

var urlRe = regexp.MustCompile(`https?://[^\s)\]>"']+`)

func extractURLs(text string) []string {
	return urlRe.FindAllString(text, -1)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// --- run state helpers ---

func (r *researchRun) setStatus(s PlanStatus) {
	r.mu.Lock()
	r.status = s
	r.updatedAt = NowUnix()
	r.mu.Unlock()
}

func (r *researchRun) setState(i int, s AgentState) {
	r.mu.Lock()
	r.states[i] = s
	r.updatedAt = NowUnix()
	r.mu.Unlock()
}

func (r *researchRun) setOutcome(i int, o AgentOutcome) {
	r.mu.Lock()
	r.outcomes[i] = o
	r.states[i] = o.State
	r.updatedAt = NowUnix()
	r.mu.Unlock()
}

func (r *researchRun) fail(err error) {
	r.mu.Lock()
	r.status = PlanFailed
	r.err = err.Error()
	r.updatedAt = NowUnix()
	r.mu.Unlock()
}

func (r *researchRun) allFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == AgentSuccess {
			return false
		}
	}
	return true
}

func (r *researchRun) allSucceeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s != AgentSuccess {
			return false
		}
	}
	return true
}

// --- expiry sweep ---

func (o *Orchestrator) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			n, err := o.store.DeleteExpired(context.Background(), NowUnix())
			if err != nil {
				o.logger.Warn("result sweep failed", "error", err)
				continue
			}
			if n > 0 {
				o.logger.Info("expired results swept", "count", n)
			}
			o.pruneRuns()
		}
	}
}

// pruneRuns drops terminal run states older than the TTL.
func (o *Orchestrator) pruneRuns() {
	cutoff := NowUnix() - int64(o.ttl.Seconds())
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, run := range o.runs {
		run.mu.Lock()
		terminal := run.status == PlanDone || run.status == PlanFailed
		old := run.updatedAt < cutoff
		run.mu.Unlock()
		if terminal && old {
			delete(o.runs, id)
		}
	}
}
