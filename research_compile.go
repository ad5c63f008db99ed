package conductor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// markdownCap bounds the report text fed into the summary pass.
	markdownCap = 50_000
	// ragContextCap bounds retrieved context in the summary prompt.
	ragContextCap = 10_000
)

const summaryPrompt = `Write an executive summary of the research report below.
Structure it in five parts:
1. Key findings
2. Supporting evidence
3. Conflicting or uncertain points
4. Practical implications
5. Recommended next steps

Be concise and concrete. Use markdown.`

// compile assembles the final report from sub-agent outcomes, writes the
// executive summary, renders the artifact, ingests the report, and stores
// the result. Ingest and render failures are logged, never fatal.
func (o *Orchestrator) compile(ctx context.Context, run *researchRun) error {
	run.mu.Lock()
	plan := run.plan
	outcomes := append([]AgentOutcome(nil), run.outcomes...)
	started := run.startedAt
	run.mu.Unlock()

	var usage Usage
	for _, oc := range outcomes {
		usage.Add(oc.Usage)
	}

	markdown := buildReportMarkdown(plan, outcomes, started, usage)

	summary, sumUsage, err := o.summarize(ctx, plan, markdown)
	if err != nil {
		// A missing summary degrades the report, it does not fail the run.
		o.logger.Warn("summary generation failed", "plan", plan.ID, "error", err)
	}
	usage.Add(sumUsage)

	status := PlanDone
	for _, oc := range outcomes {
		if oc.State != AgentSuccess {
			status = PlanPartial
			break
		}
	}

	result := ResearchResult{
		PlanID:    plan.ID,
		Status:    status,
		Title:     plan.Title,
		Query:     plan.Query,
		Markdown:  markdown,
		Summary:   summary,
		Usage:     usage,
		CreatedAt: NowUnix(),
		ExpiresAt: NowUnix() + int64(o.ttl.Seconds()),
	}

	if o.renderer != nil {
		artifact, mime, err := o.renderer.Render(ctx, markdown)
		if err != nil {
			o.logger.Warn("report render failed", "plan", plan.ID, "error", err)
		} else {
			result.Artifact = artifact
			result.ArtifactMIME = mime
		}
	}

	if o.ingest != nil {
		meta := map[string]string{"plan_id": plan.ID, "kind": "research_report"}
		if _, err := o.ingest.Ingest(ctx, plan.Title, markdown, meta); err != nil {
			o.logger.Warn("report ingest failed", "plan", plan.ID, "error", err)
		}
	}

	return o.store.SaveResult(ctx, result)
}

// summarize runs the final summary pass over the (capped) report, with
// retrieved context when a retriever is configured.
func (o *Orchestrator) summarize(ctx context.Context, plan ResearchPlan, markdown string) (string, Usage, error) {
	report := truncateStr(markdown, markdownCap)

	var contextBlock string
	if o.retrieve != nil {
		chunks, err := o.retrieve.Retrieve(ctx, plan.Query, RetrievalResearch, contextChunks)
		if err != nil {
			o.logger.Warn("summary context retrieval failed", "plan", plan.ID, "error", err)
		} else if len(chunks) > 0 {
			var b strings.Builder
			for _, c := range chunks {
				b.WriteString(c.Content)
				b.WriteString("\n")
			}
			contextBlock = "\n\nAdditional context:\n" + truncateStr(b.String(), ragContextCap)
		}
	}

	env, err := o.planner.Generate(ctx, ChatRequest{
		Model: o.planner.Describe().ID,
		Messages: []Message{
			SystemMessage(summaryPrompt),
			UserMessage(report + contextBlock),
		},
	})
	if err != nil {
		return "", Usage{}, err
	}
	return env.Text(), env.Usage, nil
}

// buildReportMarkdown lays out the report: header, table of contents,
// per-perspective sections, limitations, metadata.
func buildReportMarkdown(plan ResearchPlan, outcomes []AgentOutcome, startedAt int64, usage Usage) string {
	var b strings.Builder

	title := plan.Title
	if title == "" {
		title = "Research Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Query:** %s\n\n", plan.Query)
	if plan.Objective != "" {
		fmt.Fprintf(&b, "**Objective:** %s\n\n", plan.Objective)
	}
	fmt.Fprintf(&b, "**Generated:** %s\n\n", time.Unix(NowUnix(), 0).UTC().Format(time.RFC3339))

	b.WriteString("## Table of Contents\n\n")
	for i, oc := range outcomes {
		if oc.State == AgentSuccess {
			fmt.Fprintf(&b, "%d. %s\n", i+1, oc.Perspective)
		}
	}
	b.WriteString("\n")

	var limitations []AgentOutcome
	var citations []string
	for _, oc := range outcomes {
		if oc.State != AgentSuccess {
			limitations = append(limitations, oc)
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", oc.Perspective, strings.TrimSpace(oc.Section))
		citations = append(citations, oc.Citations...)
	}

	if citations = dedupe(citations); len(citations) > 0 {
		b.WriteString("## Sources\n\n")
		for _, c := range citations {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	if len(limitations) > 0 {
		b.WriteString("## Research Limitations\n\n")
		for _, oc := range limitations {
			reason := oc.Err
			if reason == "" {
				reason = string(oc.State)
			}
			fmt.Fprintf(&b, "- %s: %s (%s)\n", oc.Perspective, reason, oc.State)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Research Metadata\n\n")
	succeeded := 0
	for _, oc := range outcomes {
		if oc.State == AgentSuccess {
			succeeded++
		}
	}
	fmt.Fprintf(&b, "- Sub-agents: %d (%d succeeded)\n", len(outcomes), succeeded)
	fmt.Fprintf(&b, "- Elapsed: %s\n", time.Since(time.Unix(startedAt, 0)).Round(time.Second))
	fmt.Fprintf(&b, "- Tokens: %d input, %d output\n", usage.InputTokens, usage.OutputTokens)

	return b.String()
}
