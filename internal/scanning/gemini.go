package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// receiptScanPrompt is the shared prompt used by all model providers to pull
// line items out of a receipt image.
const receiptScanPrompt = `Extract all receipt items and their prices from the receipt image. Return a valid JSON object in the following format:
{
  "Item Name": "$Price"
}
Ensure that:
- All keys are human readable.
- Prices with discount codes (e.g., (-A)) are returned as negative numbers.
- If a "total" field is present, do not include any items beyond it.
Only output the JSON and nothing else.`

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	// The prompt asks for bare JSON; NormalizeExtraction repairs fenced or
	// prose-wrapped responses, so no response-format config is needed.
	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// ScanReceipt analyzes a receipt image and extracts its line items
func (g *Gemini) ScanReceipt(imageData []byte, contentType string) ([]LineItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Prepare image data (convert to PNG if needed)
	finalImageData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects just the format suffix; after prepareImageData
	// everything is PNG.
	parts := []genai.Part{
		genai.ImageData("png", finalImageData),
		genai.Text(receiptScanPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	items, err := NormalizeExtraction(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("normalizing extraction: %w", err)
	}

	return items, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
