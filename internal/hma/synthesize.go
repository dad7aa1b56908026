package hma

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	xerrors "GatewayHMA/internal/errors"
	"GatewayHMA/internal/llm"
	"GatewayHMA/internal/route"
)

// DefaultSystemPrompt 是合成智能体（SOM）的默认系统提示词。
const DefaultSystemPrompt = "Du bist die innere Stimme (SOM) des Haupt-Meta-Agenten. " +
	"Du fasst interne Agentenantworten zusammen, triffst eine Entscheidung " +
	"und wählst EIN Ziel: user|task|lib|trn. " +
	"Wenn du unsicher bist, wähle immer 'user'."

var finalInstructions = "# Deine Aufgabe als SOM\n" +
	"1. Beantworte die Frage des Nutzers direkt, in Ich-Form, kurz und präzise.\n" +
	"2. Entscheide erst DANACH, ob eine Folgeaktion nötig ist:\n" +
	"   - Wähle 'user', wenn deine Antwort für den Nutzer ausreicht (STANDARDFALL).\n" +
	"   - Wähle 'task', wenn eine konkrete Weiterverarbeitung durch den Task-Manager nötig ist.\n" +
	"   - Wähle 'lib', wenn zusätzliche Recherche/Wissen durch den Librarian nötig ist.\n" +
	"   - Wähle 'trn', wenn Training/Reflexion durch den Trainer sinnvoll ist.\n" +
	"3. Wenn du unsicher bist, wähle IMMER 'user'.\n\n" +
	"Formatiere deine Ausgabe GENAU so:\n" +
	"- Zuerst deine Antwort in natürlicher Sprache.\n" +
	"- Danach EXAKT EINE zusätzliche Zeile im Format:\n" +
	route.Format(route.TargetUser, nil) + "\n" +
	"Ersetze in dieser ROUTE-Zeile NUR das Wort \"user\" durch GENAU EINEN der Werte: " +
	"user, task, lib oder trn.\n" +
	"Schreibe KEINE weiteren Kommentare oder Erklärungen in diese Zeile."

// Synthesizer 调用补全模型生成第一人称答案与路由指令。
type Synthesizer struct {
	Client       llm.Client
	SystemPrompt string
	Capabilities string
	Timeout      time.Duration
}

// Prompt 渲染完整的合成提示词。
func (s Synthesizer) Prompt(userText, contextText, inner string) string {
	var b strings.Builder
	b.WriteString(userText)
	b.WriteString("\n\n# Kontext\n")
	b.WriteString(contextText)
	b.WriteString("\n\n# Fähigkeiten\n")
	b.WriteString(s.Capabilities)
	b.WriteString("\n\n# Interner Zwischenstand\n")
	b.WriteString(inner)
	b.WriteString("\n\n")
	b.WriteString(finalInstructions)
	return b.String()
}

// Synthesize 只调用一次补全。提供方失败时返回空文本与可恢复错误。
func (s Synthesizer) Synthesize(ctx context.Context, userText, contextText, inner string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "hma.synthesize")
	defer span.End()

	if s.Client == nil {
		err := xerrors.New(CodeCompletionProvider, "未配置补全客户端")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	system := s.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}

	text, err := s.complete(ctx, system, s.Prompt(userText, contextText, inner))
	if err != nil {
		wrapped := xerrors.Wrap(CodeCompletionProvider, err, "合成补全失败")
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return "", wrapped
	}
	return text, nil
}

func (s Synthesizer) complete(ctx context.Context, system, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = xerrors.New(CodeCompletionProvider, "补全客户端 panic", xerrors.WithMetadata("panic", fmt.Sprint(r)))
		}
	}()
	return s.Client.Complete(ctx, system, prompt)
}
