package metadata

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
	"github.com/joseph-ayodele/docingest/internal/llm"
	"github.com/joseph-ayodele/docingest/internal/testutil"
)

func newFactory(t *testing.T, model llm.Completer) *Factory {
	t.Helper()
	return NewDefaultFactory(Deps{Prompts: testutil.SeededRegistry(t), Model: model, Logger: slog.Default()})
}

func TestFactory(t *testing.T) {
	f := newFactory(t, testutil.NewScriptedLLM())

	t.Run("Should register every built-in type", func(t *testing.T) {
		assert.ElementsMatch(t, []constants.DocumentType{
			constants.Budget, constants.Contract, constants.DeliveryNote, constants.Invoice,
			constants.Minutes, constants.Notice, constants.PropertyDeed,
		}, f.Types())
		for _, typ := range f.Types() {
			s, err := f.Resolve(typ)
			require.NoError(t, err)
			assert.Equal(t, typ, s.DocumentType())
			assert.Equal(t, string(typ)+"_extractor", s.AgentName())
		}
	})

	t.Run("Should report unsupported types", func(t *testing.T) {
		_, err := f.Resolve(constants.Unknown)
		assert.ErrorIs(t, err, common.ErrUnsupportedDocumentType)
	})

	t.Run("Should accept new registrations", func(t *testing.T) {
		f := NewFactory()
		f.Register(NewAgentStrategy(Definition{Type: constants.Unknown, Agent: "generic_extractor", Fields: []FieldSpec{str("title")}}, Deps{}))
		s, err := f.Resolve(constants.Unknown)
		require.NoError(t, err)
		assert.Equal(t, "generic_extractor", s.AgentName())
	})
}

func TestInvoiceStrategy(t *testing.T) {
	ctx := context.Background()
	docID := uuid.New()
	text := "FACTURA A-2024-001\nFecha: 05/03/2024\nTotal: 121,00 EUR"

	t.Run("Should return invoice-specific fields from strict JSON", func(t *testing.T) {
		model := testutil.NewScriptedLLM().Reply("invoice_extractor", `{
			"invoice_number": "A-2024-001",
			"issue_date": "05/03/2024",
			"proveedor": "Limpiezas Sol SL",
			"total_amount": "121,00",
			"tax_amount": 21,
			"currency": "EUR",
			"notes": null,
			"line_items": [{"description": "Limpieza", "quantity": "1", "amount": "100,00"}]
		}`)
		s, err := newFactory(t, model).Resolve(constants.Invoice)
		require.NoError(t, err)

		res, err := s.Process(ctx, docID, text)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, llm.ParseStrict, res.Mode)
		assert.Equal(t, entity.ValidationValid, res.ValidationStatus)
		assert.InDelta(t, 0.95, res.Confidence, 1e-9)
		assert.Equal(t, "invoice_extractor", res.Method)

		assert.Equal(t, "A-2024-001", res.Data["invoice_number"])
		assert.Equal(t, "2024-03-05", res.Data["issue_date"])
		assert.Equal(t, "Limpiezas Sol SL", res.Data["vendor_name"])
		assert.InDelta(t, 121.0, res.Data["total_amount"], 1e-9)
		assert.NotContains(t, res.Data, "notes")
		assert.NotContains(t, res.Data, "title", "generic fields are not produced")

		items := res.Data["line_items"].([]any)
		require.Len(t, items, 1)
		assert.InDelta(t, 100.0, items[0].(map[string]any)["amount"], 1e-9)

		prompts := model.CallsFor("invoice_extractor")
		require.Len(t, prompts, 1)
		assert.Contains(t, prompts[0], text)

		rec := res.Record(docID, constants.Invoice)
		assert.Equal(t, docID, rec.DocumentID)
		assert.Equal(t, "invoice_extractor", rec.ExtractionMethod)
	})

	t.Run("Should use an object embedded in prose", func(t *testing.T) {
		model := testutil.NewScriptedLLM().Reply("invoice_extractor",
			`Here is the data: {"invoice_number": "B-9", "total_amount": 50.5} Let me know if you need more.`)
		s, _ := newFactory(t, model).Resolve(constants.Invoice)

		res, err := s.Process(ctx, docID, text)
		require.NoError(t, err)
		assert.Equal(t, llm.ParseEmbedded, res.Mode)
		assert.Equal(t, "B-9", res.Data["invoice_number"])
	})

	t.Run("Should keep data but lower confidence on schema mismatch", func(t *testing.T) {
		model := testutil.NewScriptedLLM().Reply("invoice_extractor", `{"invoice_number": "C-1", "issue_date": "March 5th"}`)
		s, _ := newFactory(t, model).Resolve(constants.Invoice)

		res, err := s.Process(ctx, docID, text)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, entity.ValidationSchemaMismatch, res.ValidationStatus)
		assert.Equal(t, "C-1", res.Data["invoice_number"])
		assert.Less(t, res.Confidence, 0.6)
	})

	t.Run("Should salvage fields from malformed JSON", func(t *testing.T) {
		model := testutil.NewScriptedLLM().Reply("invoice_extractor",
			`{"invoice_number": "D-4", "total_amount": 1.234,56,, "issue_date": "01/02/2024"`)
		s, _ := newFactory(t, model).Resolve(constants.Invoice)

		res, err := s.Process(ctx, docID, text)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, entity.ValidationSalvaged, res.ValidationStatus)
		assert.Equal(t, llm.ParseSalvage, res.Mode)
		assert.LessOrEqual(t, res.Confidence, 0.4)
		assert.Equal(t, "D-4", res.Data["invoice_number"])
		assert.InDelta(t, 1234.56, res.Data["total_amount"], 1e-9)
		assert.Equal(t, "2024-02-01", res.Data["issue_date"])
	})

	t.Run("Should salvage from a response without braces", func(t *testing.T) {
		model := testutil.NewScriptedLLM().Reply("invoice_extractor", "invoice_number: E-5\ntotal: 99,90")
		s, _ := newFactory(t, model).Resolve(constants.Invoice)

		res, err := s.Process(ctx, docID, text)
		require.NoError(t, err)
		assert.Equal(t, entity.ValidationSalvaged, res.ValidationStatus)
		assert.InDelta(t, 99.9, res.Data["total_amount"], 1e-9)
		assert.NotContains(t, res.Data, "invoice_number", "unquoted strings are not salvaged")
	})

	t.Run("Should fail when nothing can be recovered", func(t *testing.T) {
		model := testutil.NewScriptedLLM().Reply("invoice_extractor", "Sorry, I cannot read this document.")
		s, _ := newFactory(t, model).Resolve(constants.Invoice)

		res, err := s.Process(ctx, docID, text)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrMetadataParse)
		assert.False(t, res.Success)
		assert.Equal(t, err, res.Error)
	})

	t.Run("Should fail when the model is unavailable", func(t *testing.T) {
		model := testutil.NewScriptedLLM().Fail("invoice_extractor", errors.New("503"))
		s, _ := newFactory(t, model).Resolve(constants.Invoice)

		_, err := s.Process(ctx, docID, text)
		assert.ErrorIs(t, err, common.ErrModelUnavailable)
		assert.NotErrorIs(t, err, common.ErrMetadataParse)
	})

	t.Run("Should fail when strict JSON carries no known field", func(t *testing.T) {
		model := testutil.NewScriptedLLM().Reply("invoice_extractor", `{"error": "document is not an invoice"}`)
		s, _ := newFactory(t, model).Resolve(constants.Invoice)

		res, err := s.Process(ctx, docID, text)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrMetadataParse)
		assert.Contains(t, err.Error(), "no known fields")
		assert.False(t, res.Success)
	})

	t.Run("Should salvage when strict JSON carries only unknown keys", func(t *testing.T) {
		model := testutil.NewScriptedLLM().Reply("invoice_extractor", `{"result": {"total_amount": 45.5}}`)
		s, _ := newFactory(t, model).Resolve(constants.Invoice)

		res, err := s.Process(ctx, docID, text)
		require.NoError(t, err)
		assert.Equal(t, entity.ValidationSalvaged, res.ValidationStatus)
		assert.InDelta(t, 45.5, res.Data["total_amount"], 1e-9)
	})
}

func TestMinutesStrategy(t *testing.T) {
	model := testutil.NewScriptedLLM().Reply("minutes_extractor", "```json\n"+`{
		"fecha_junta": "12/04/2024",
		"meeting_type": "ordinary",
		"president": "Ana López",
		"attendees_count": "14",
		"acuerdos": ["Aprobar cuentas", "Pintar fachada"]
	}`+"\n```")
	s, err := newFactory(t, model).Resolve(constants.Minutes)
	require.NoError(t, err)

	res, err := s.Process(context.Background(), uuid.New(), "ACTA DE JUNTA ORDINARIA")
	require.NoError(t, err)
	assert.Equal(t, llm.ParseFenced, res.Mode)
	assert.Equal(t, entity.ValidationValid, res.ValidationStatus)
	assert.Equal(t, "2024-04-12", res.Data["meeting_date"])
	assert.InDelta(t, 14.0, res.Data["attendees_count"], 1e-9)
	assert.Equal(t, []any{"Aprobar cuentas", "Pintar fachada"}, res.Data["agreements"])
}

func TestSchema(t *testing.T) {
	for _, def := range Definitions() {
		t.Run("Should enforce required fields for "+string(def.Type), func(t *testing.T) {
			v := llm.NewSchemaValidator(Schema(def.Fields))
			assert.Error(t, v.Validate(map[string]any{}), "required fields are enforced")
			assert.Error(t, v.Validate(map[string]any{"bogus": 1}))
		})
	}
}

func TestSalvageConfidence(t *testing.T) {
	assert.InDelta(t, 0.1, salvageConfidence(0, 10), 1e-9)
	assert.InDelta(t, 0.4, salvageConfidence(10, 10), 1e-9)
	assert.InDelta(t, 0.4, salvageConfidence(20, 10), 1e-9)
	assert.InDelta(t, 0.1, salvageConfidence(3, 0), 1e-9)
}

func TestBasic(t *testing.T) {
	res := Basic(BasicInput{
		Filename:  "/data/docs/comunicado-vecinos.pdf",
		Text:      "\n\n  Comunicado a los vecinos  \nSe informa de que el ascensor estará parado por la revisión anual.",
		PageCount: 2,
	})
	assert.True(t, res.Success)
	assert.Equal(t, entity.ExtractionMethodBasic, res.Method)
	assert.Equal(t, entity.ValidationBasic, res.ValidationStatus)
	assert.InDelta(t, BasicConfidence, res.Confidence, 1e-9)
	assert.Equal(t, "Comunicado a los vecinos", res.Data["title"])
	assert.Equal(t, 2, res.Data["page_count"])
	assert.Equal(t, "es", res.Data["language"])

	assert.Equal(t, "scan-001", Title("   \n 12345 \n", "scan-001.pdf"))
	assert.Equal(t, "en", DetectLanguage("The owners of the building were informed that the lift is out of service."))
	assert.Equal(t, "unknown", DetectLanguage("12 34 56"))
}
