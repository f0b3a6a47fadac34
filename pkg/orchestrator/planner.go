package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/models"
)

const planSystemPrompt = `You are planning a multi-step server administration task to be executed over SSH. Respond with a single JSON object and nothing else:

{
  "title": "short task title",
  "description": "what this task accomplishes",
  "steps": [
    {
      "name": "short step name",
      "description": "what this step does",
      "command": "exact shell command",
      "rollback_command": "command undoing this step, empty if not undoable",
      "requires_approval": true,
      "timeout": 60
    }
  ],
  "estimated_duration": "5 minutes",
  "risks": ["risk descriptions"],
  "requires_approval": true
}

Rules:
- Every step that modifies the server sets requires_approval to true.
- Commands must be non-interactive (use -y, --non-interactive flags).
- Prefer small, verifiable steps with a check after each change.
- Timeouts are in seconds, between 10 and 300.`

// Plan asks the model for a structured task plan. The planner is forgiving:
// when no usable JSON can be extracted it returns a single-step fallback
// plan that requires approval, never an error. A nil server plans the task
// without host context.
func Plan(ctx context.Context, client llm.Client, model, request string, server *models.Server) *models.TaskPlan {
	prompt := "Task request:\n" + request
	if server != nil {
		prompt = fmt.Sprintf("Server: %s (%s), user %s.\n\n%s", server.Name, server.Host, server.Username, prompt)
	}

	text, err := completeText(ctx, client, &llm.Request{
		Model:     model,
		System:    planSystemPrompt,
		MaxTokens: 4096,
		Messages: []llm.Message{
			{Role: models.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return fallbackPlan(request)
	}

	plan, ok := extractPlan(text)
	if !ok {
		return fallbackPlan(request)
	}
	normalizePlan(plan)
	return plan
}

func completeText(ctx context.Context, client llm.Client, req *llm.Request) (string, error) {
	ch, err := client.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), nil
}

// extractPlan pulls the first JSON object out of model text, tolerating
// code fences and prose around it.
func extractPlan(text string) (*models.TaskPlan, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}

	var plan models.TaskPlan
	if err := json.Unmarshal([]byte(text[start:end+1]), &plan); err != nil {
		return nil, false
	}
	if len(plan.Steps) == 0 {
		return nil, false
	}
	for _, step := range plan.Steps {
		if step.Command == "" {
			return nil, false
		}
	}
	return &plan, true
}

func normalizePlan(plan *models.TaskPlan) {
	if plan.Title == "" {
		plan.Title = "Unnamed task"
	}
	for _, step := range plan.Steps {
		if step.Timeout < 10 {
			step.Timeout = 60
		}
		if step.Timeout > 300 {
			step.Timeout = 300
		}
		if step.RequiresApproval {
			plan.RequiresApproval = true
		}
	}
}

func fallbackPlan(request string) *models.TaskPlan {
	return &models.TaskPlan{
		Title:            "Manual review needed",
		Description:      "A structured plan could not be generated for: " + request,
		RequiresApproval: true,
		Steps: []*models.PlanStep{
			{
				Name:             "Review request",
				Description:      "The planner could not break this request into steps.",
				Command:          `echo "I could not generate a plan for this request. Please rephrase it or split it into smaller tasks."`,
				RequiresApproval: true,
				Timeout:          10,
			},
		},
	}
}
