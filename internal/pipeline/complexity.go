package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Keyword groups scored against the lowercased task description. A keyword
// counts once per group regardless of how often it appears.
var (
	simpleKeywords = []string{
		"fix", "typo", "update", "change", "rename", "remove", "delete",
		"adjust", "tweak", "correct", "modify", "style", "color", "text",
		"label", "button", "margin", "padding", "font", "size", "hide", "show",
		"comment", "readme", "docs", "documentation",
	}

	standardKeywords = []string{
		"add", "create", "implement", "feature", "component", "page", "form",
		"validation", "handler", "endpoint", "route", "service", "helper",
		"utility", "hook", "context", "state", "store",
	}

	complexKeywords = []string{
		"integrate", "integration", "api", "sdk", "library", "package",
		"database", "migrate", "migration", "docker", "kubernetes", "deploy",
		"authentication", "oauth", "graphql", "websocket", "queue", "cache",
		"redis", "postgres", "mongo", "elasticsearch", "kafka", "rabbitmq",
		"microservice", "refactor", "architecture", "infrastructure",
		"performance", "optimization", "security", "encryption",
	}

	criticalKeywords = []string{
		"breaking", "major", "migrate", "schema", "rollback", "downtime",
		"production", "critical", "urgent", "emergency", "security", "vulnerability",
		"data loss", "corruption", "recovery",
	}

	multiServiceKeywords = []string{
		"backend", "frontend", "worker", "service", "api", "client", "server",
		"database", "queue", "cache", "proxy", "gateway", "microservice",
	}
)

// integrationRules map mention patterns to integration categories.
var integrationRules = []struct {
	pattern  *regexp.Regexp
	category string
}{
	{regexp.MustCompile(`\b(graphiti|graphql|apollo)\b`), "graphql"},
	{regexp.MustCompile(`\b(stripe|paypal|payment)\b`), "payment"},
	{regexp.MustCompile(`\b(auth0|okta|oauth|jwt|auth|authentication|authorization)\b`), "auth"},
	{regexp.MustCompile(`\b(aws|gcp|azure|s3|lambda)\b`), "cloud"},
	{regexp.MustCompile(`\b(redis|memcached)\b`), "cache"},
	{regexp.MustCompile(`\b(postgres|mysql|mongodb|database)\b`), "database"},
	{regexp.MustCompile(`\b(elasticsearch|algolia)\b`), "search"},
	{regexp.MustCompile(`\b(kafka|rabbitmq|sqs)\b`), "queue"},
	{regexp.MustCompile(`\b(docker|kubernetes|k8s)\b`), "container"},
	{regexp.MustCompile(`\b(openai|anthropic|claude|llm|ai)\b`), "ai"},
	{regexp.MustCompile(`\b(sendgrid|twilio)\b`), "messaging"},
	{regexp.MustCompile(`\b(github|gitlab|bitbucket)\b`), "vcs"},
}

var infraPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bdocker\b`),
	regexp.MustCompile(`\bkubernetes\b`),
	regexp.MustCompile(`\bk8s\b`),
	regexp.MustCompile(`\bdeploy\b`),
	regexp.MustCompile(`\binfrastructure\b`),
	regexp.MustCompile(`\bci/cd\b`),
	regexp.MustCompile(`\benvironment\b`),
	regexp.MustCompile(`\bconfig\b`),
	regexp.MustCompile(`\b\.env\b`),
	regexp.MustCompile(`\bdatabase migration\b`),
	regexp.MustCompile(`\bschema\b`),
	regexp.MustCompile(`\bterraform\b`),
	regexp.MustCompile(`\bansible\b`),
	regexp.MustCompile(`\bhelm\b`),
}

// fileMention matches file extensions named directly in a task, which beat
// the keyword-based file estimate.
var fileMention = regexp.MustCompile(`\.(tsx?|jsx?|py|go|rs|java|rb|php|vue|svelte)\b`)

var researchTriggers = []string{
	"investigate", "research", "explore", "analyze", "understand",
	"figure out", "find out", "determine", "evaluate", "compare",
	"best practice", "how to", "should we", "recommendation",
}

// Analyzer grades a task's complexity from keyword heuristics. The project
// index, when present, sharpens service estimates for monorepos.
type Analyzer struct {
	Index *ProjectIndex
}

// Analyze scores the task description, optionally enriched by requirements,
// and returns the assessment that decides which phases run.
func (a *Analyzer) Analyze(task string, req *Requirements) *ComplexityAssessment {
	lower := strings.ToLower(task)

	signals := Signals{
		SimpleKeywords:       countKeywords(lower, simpleKeywords),
		StandardKeywords:     countKeywords(lower, standardKeywords),
		ComplexKeywords:      countKeywords(lower, complexKeywords),
		CriticalKeywords:     countKeywords(lower, criticalKeywords),
		MultiServiceKeywords: countKeywords(lower, multiServiceKeywords),
	}

	integrations := detectIntegrations(lower)
	signals.ExternalIntegrations = len(integrations)

	infra := detectInfrastructureChanges(lower)
	signals.Infrastructure = infra

	estimatedFiles := a.estimateFiles(lower)
	estimatedServices := a.estimateServices(lower)
	signals.EstimatedFiles = estimatedFiles
	signals.EstimatedServices = estimatedServices

	if req != nil {
		signals.ExplicitServices = len(req.ServicesInvolved)
		if len(req.ServicesInvolved) > estimatedServices {
			estimatedServices = len(req.ServicesInvolved)
		}
		// Many acceptance criteria push the task toward complex.
		if len(req.AcceptanceCriteria) > 5 {
			signals.AcceptanceCriteria = len(req.AcceptanceCriteria)
			signals.ComplexKeywords++
		}
	}

	complexity, confidence, reasoning := calculateComplexity(
		signals, integrations, infra, estimatedFiles, estimatedServices)

	return &ComplexityAssessment{
		Complexity:            complexity,
		Confidence:            confidence,
		Signals:               signals,
		Reasoning:             reasoning,
		EstimatedFiles:        estimatedFiles,
		EstimatedServices:     estimatedServices,
		ExternalIntegrations:  integrations,
		InfrastructureChanges: infra,
		NeedsResearch:         needsResearch(lower, integrations),
		NeedsSelfCritique:     complexity == ComplexityComplex || complexity == ComplexityCritical,
		NeedsImpactAnalysis: estimatedFiles > 5 ||
			estimatedServices > 1 ||
			len(integrations) > 0 ||
			infra,
	}
}

// OverrideAssessment builds the assessment for a manual complexity override.
func OverrideAssessment(raw string) (*ComplexityAssessment, error) {
	complexity, err := ParseComplexity(raw)
	if err != nil {
		return nil, err
	}
	return &ComplexityAssessment{
		Complexity:        complexity,
		Confidence:        1.0,
		Reasoning:         "Manual override: " + raw,
		EstimatedFiles:    1,
		EstimatedServices: 1,
	}, nil
}

func countKeywords(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

// detectIntegrations returns the sorted set of integration categories the
// task mentions.
func detectIntegrations(lower string) []string {
	var found []string
	seen := make(map[string]bool)
	for _, rule := range integrationRules {
		if !seen[rule.category] && rule.pattern.MatchString(lower) {
			seen[rule.category] = true
			found = append(found, rule.category)
		}
	}
	sort.Strings(found)
	return found
}

func detectInfrastructureChanges(lower string) bool {
	for _, pattern := range infraPatterns {
		if pattern.MatchString(lower) {
			return true
		}
	}
	return false
}

func (a *Analyzer) estimateFiles(lower string) int {
	for _, kw := range []string{"single", "one file", "one component", "this file"} {
		if strings.Contains(lower, kw) {
			return 1
		}
	}

	if mentions := len(fileMention.FindAllString(lower, -1)); mentions > 0 {
		return mentions
	}

	switch {
	case countKeywords(lower, simpleKeywords) > 0:
		return 2
	case countKeywords(lower, standardKeywords) > 0:
		return 5
	case countKeywords(lower, complexKeywords) > 0:
		return 15
	case countKeywords(lower, criticalKeywords) > 0:
		return 25
	}
	return 5
}

func (a *Analyzer) estimateServices(lower string) int {
	count := countKeywords(lower, multiServiceKeywords)

	// In a monorepo, services named outright beat the keyword count.
	if a.Index != nil && a.Index.ProjectType == "monorepo" {
		mentioned := 0
		for name := range a.Index.Services {
			if strings.Contains(lower, strings.ToLower(name)) {
				mentioned++
			}
		}
		if mentioned > 0 {
			return mentioned
		}
	}

	if count > 5 {
		count = 5
	}
	if count < 1 {
		count = 1
	}
	return count
}

func needsResearch(lower string, integrations []string) bool {
	for _, trigger := range researchTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return len(integrations) > 0
}

func calculateComplexity(
	signals Signals,
	integrations []string,
	infra bool,
	estimatedFiles, estimatedServices int,
) (Complexity, float64, string) {
	var reasons []string

	critical := signals.CriticalKeywords >= 2 ||
		(infra && estimatedServices >= 3) ||
		(len(integrations) >= 3 && estimatedFiles >= 15)
	if critical {
		reasons = append(reasons, "Critical change detected")
		if signals.CriticalKeywords > 0 {
			reasons = append(reasons, fmt.Sprintf("%d critical keyword(s)", signals.CriticalKeywords))
		}
		if infra {
			reasons = append(reasons, "infrastructure changes")
		}
		return ComplexityCritical, 0.85, strings.Join(reasons, "; ")
	}

	if len(integrations) >= 2 || infra || estimatedServices >= 3 || estimatedFiles >= 10 || signals.ComplexKeywords >= 3 {
		reasons = append(reasons, fmt.Sprintf("%d integrations, %d services, %d files",
			len(integrations), estimatedServices, estimatedFiles))
		if infra {
			reasons = append(reasons, "infrastructure changes detected")
		}
		return ComplexityComplex, 0.85, strings.Join(reasons, "; ")
	}

	if estimatedFiles <= 2 &&
		estimatedServices == 1 &&
		len(integrations) == 0 &&
		!infra &&
		signals.SimpleKeywords > 0 &&
		signals.ComplexKeywords == 0 {
		return ComplexitySimple, 0.9,
			fmt.Sprintf("Single service, %d file(s), no integrations", estimatedFiles)
	}

	reasons = append(reasons, fmt.Sprintf("%d files, %d service(s)", estimatedFiles, estimatedServices))
	if len(integrations) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d integration(s)", len(integrations)))
	}
	return ComplexityStandard, 0.75, strings.Join(reasons, "; ")
}
