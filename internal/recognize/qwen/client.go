package qwen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuehanbi/receipt2excel/internal/entity"
	"github.com/yuehanbi/receipt2excel/internal/recognize"
)

// Recognize implements recognize.Recognizer against the DashScope
// compatible-mode chat/completions endpoint with the image attached as a
// data URL. One request per call; retry policy belongs to the caller.
func (c *Client) Recognize(ctx context.Context, image []byte, mimeType string) (entity.ExpenseRecord, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("recognize.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"image_bytes", len(image),
		"mime", mimeType,
	)

	schema := recognize.BuildExpenseJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt + "\n\nJSON Schema:\n" + mustJSON(schema)},
			{"role": "user", "content": []map[string]any{
				{"type": "image_url", "image_url": map[string]any{"url": dataURL(image, mimeType)}},
				{"type": "text", "text": "识别这张报销单，严格按照 schema 返回 JSON。"},
			}},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.logger.Error("recognize.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return entity.ExpenseRecord{}, nil, recognize.NewServiceUnavailable("recognition service call failed", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return entity.ExpenseRecord{}, raw, recognize.NewSchemaMismatch("decode service response", err)
	}
	if len(cc.Choices) == 0 {
		return entity.ExpenseRecord{}, raw, recognize.NewSchemaMismatch("no choices in service response", nil)
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	cleaned, changed, err := recognize.NormalizeExtractionJSON(content)
	if err != nil {
		return entity.ExpenseRecord{}, content, recognize.NewSchemaMismatch("response is not a JSON object", err)
	}
	if len(changed) > 0 {
		c.logger.Warn("recognize.normalized", "req_id", rid, "changed", changed)
	}

	if err := recognize.ValidateExpenseJSON(cleaned); err != nil {
		c.logger.Error("recognize.schema_validation_failed",
			"req_id", rid, "error", err, "content", string(cleaned),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return entity.ExpenseRecord{}, cleaned, recognize.NewSchemaMismatch("schema validation failed", err)
	}

	var out entity.ExpenseRecord
	if err := json.Unmarshal(cleaned, &out); err != nil {
		return entity.ExpenseRecord{}, cleaned, recognize.NewSchemaMismatch("unmarshal record", err)
	}

	c.logger.Info("recognize.ok",
		"req_id", rid,
		"expense_id", out.ExpenseID,
		"submitter", out.Submitter,
		"line_items", len(out.LineItems),
		"total", out.TotalAmount.String(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, cleaned, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dashscope http error: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("dashscope response body close error", "error", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dashscope status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

const systemPrompt = "You are an expense form reader. The image is a Chinese " +
	"expense reimbursement form (报销单). Return ONLY JSON matching the schema: " +
	"expense_id (报销单号), date (日期, keep the form's own format verbatim, do not " +
	"reformat), submitter (报销人), department (部门), line_items (项目: name 名称, " +
	"amount 金额 as a decimal string), total_amount (总金额 as a decimal string, " +
	"copied from the form, never summed yourself). Never output null; use \"\" " +
	"for an unreadable expense_id."

func dataURL(image []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
