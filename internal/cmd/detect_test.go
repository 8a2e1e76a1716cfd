package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/evidence"
	"github.com/dativo-io/tarja/internal/ner"
)

const redactedSample = "A requerente [PERSON_NAME OMITIDO], CPF [NATIONAL_ID OMITIDO], mora em [LOCATION OMITIDO]."

func TestNERProvider(t *testing.T) {
	cfg := &config.Config{NERPrimaryModel: "pt_core_news_lg", NERFallbackModel: "en_core_web_sm"}

	nerMode, lexiconPath = "http", ""
	p, err := nerProvider(cfg)
	require.NoError(t, err)
	assert.Nil(t, p)

	nerMode, lexiconPath = "http", "lexicon.yaml"
	_, err = nerProvider(cfg)
	assert.Error(t, err)

	nerMode, lexiconPath = "static", ""
	p, err = nerProvider(cfg)
	require.NoError(t, err)
	static, ok := p.(ner.StaticProvider)
	require.True(t, ok)
	assert.Len(t, static, 2)

	nerMode, lexiconPath = "grpc", ""
	_, err = nerProvider(cfg)
	assert.Error(t, err)

	nerMode, lexiconPath = "http", ""
}

func TestNERProvider_OpenAI(t *testing.T) {
	defer func() { nerMode, lexiconPath = "http", "" }()

	nerMode, lexiconPath = "openai", ""
	_, err := nerProvider(&config.Config{OpenAIModel: ner.DefaultOpenAIModel})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TARJA_OPENAI_API_KEY")

	cfg := &config.Config{
		NERPrimaryModel:  ner.DefaultPrimaryModel,
		NERFallbackModel: ner.DefaultFallbackModel,
		OpenAIAPIKey:     "sk-test",
		OpenAIModel:      "gpt-4o-mini",
	}
	p, err := nerProvider(cfg)
	require.NoError(t, err)
	_, ok := p.(*ner.OpenAIProvider)
	assert.True(t, ok)
	assert.Equal(t, []string{"gpt-4o-mini", ""}, cfg.NERModels())

	nerMode, lexiconPath = "openai", "lexicon.yaml"
	_, err = nerProvider(cfg)
	assert.Error(t, err)
}

func TestScanCmd(t *testing.T) {
	_, doc, lexicon := cliEnv(t)

	out, err := execute(t, scanCmd, "scan", "--ner", "static", "--lexicon", lexicon, doc)
	require.NoError(t, err)
	assert.Contains(t, out, "pedido.txt: 3 findings")
	assert.Contains(t, out, "[30:44] NATIONAL_ID")
	assert.Contains(t, out, `"Maria Souza"`)

	out, err = execute(t, scanCmd, "scan", "--ner", "static", "--lexicon", lexicon, "--format", "json", doc)
	require.NoError(t, err)
	var outputs []scanOutput
	require.NoError(t, json.Unmarshal([]byte(out), &outputs))
	require.Len(t, outputs, 1)
	types := make([]classifier.PIIType, 0, 3)
	for _, f := range outputs[0].Findings {
		types = append(types, f.Type)
	}
	assert.Equal(t, []classifier.PIIType{classifier.PersonName, classifier.NationalID, classifier.Location}, types)
}

func TestScanCmd_Stdin(t *testing.T) {
	cliEnv(t)
	scanCmd.SetIn(strings.NewReader("Contato: maria.souza@example.com.br"))
	t.Cleanup(func() { scanCmd.SetIn(nil) })

	out, err := execute(t, scanCmd, "scan", "--ner", "static", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "stdin: 1 findings")
	assert.Contains(t, out, "EMAIL")
}

func TestScanCmd_MissingFile(t *testing.T) {
	dir, _, _ := cliEnv(t)
	_, err := execute(t, scanCmd, "scan", "--ner", "static", filepath.Join(dir, "nope.txt"))
	require.Error(t, err)
}

func TestRedactCmd_RecordsEvidence(t *testing.T) {
	_, doc, lexicon := cliEnv(t)

	out, err := execute(t, redactCmd, "redact", "--ner", "static", "--lexicon", lexicon, doc)
	require.NoError(t, err)
	assert.Equal(t, redactedSample+"\n", out)

	store, err := openEvidenceStore()
	require.NoError(t, err)
	defer store.Close()
	records, err := store.List(t.Context(), evidence.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pedido.txt", records[0].DocumentID)
	assert.Equal(t, 3, records[0].FindingCount)
	assert.Equal(t, classifier.RiskHigh, records[0].HighestRisk)
}

func TestRedactCmd_JSONWithoutEvidence(t *testing.T) {
	_, doc, lexicon := cliEnv(t)

	out, err := execute(t, redactCmd, "redact", "--ner", "static", "--lexicon", lexicon, "--evidence=false", "--format", "json", doc)
	require.NoError(t, err)

	var outputs []struct {
		DocumentID   string `json:"document_id"`
		RedactedText string `json:"redacted_text"`
		EvidenceID   string `json:"evidence_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &outputs))
	require.Len(t, outputs, 1)
	assert.Equal(t, redactedSample, outputs[0].RedactedText)
	assert.Empty(t, outputs[0].EvidenceID)
}

func TestRedactCmd_IsIdempotent(t *testing.T) {
	dir, doc, lexicon := cliEnv(t)

	first, err := execute(t, redactCmd, "redact", "--ner", "static", "--lexicon", lexicon, "--evidence=false", doc)
	require.NoError(t, err)
	again := filepath.Join(dir, "again.txt")
	require.NoError(t, os.WriteFile(again, []byte(strings.TrimSuffix(first, "\n")), 0o600))

	second, err := execute(t, redactCmd, "redact", "--ner", "static", "--lexicon", lexicon, "--evidence=false", again)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBatchCmd(t *testing.T) {
	dir, _, lexicon := cliEnv(t)
	in := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(filepath.Join(in, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(in, "a.txt"), []byte(sampleText), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(in, "sub", "b.txt"), []byte("Pedido sem dados pessoais."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(in, "c.jsonl"),
		[]byte(`{"id":"c1","text":"E-mail: joao@example.org"}`+"\n"), 0o600))
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, batchCmd, "batch", "--ner", "static", "--lexicon", lexicon, "--out-dir", outDir, "--workers", "2", in)
	require.NoError(t, err)
	assert.Contains(t, out, "Documents:           3")
	assert.Contains(t, out, "With findings:       2")
	assert.Contains(t, out, "Total findings:      4")
	assert.Contains(t, out, "- EMAIL: 1")
	assert.Contains(t, out, "● a.txt: 3 findings")

	redacted, err := os.ReadFile(filepath.Join(outDir, "a.txt.redacted.txt"))
	require.NoError(t, err)
	assert.Equal(t, redactedSample, string(redacted))
	_, err = os.Stat(filepath.Join(outDir, "sub", "b.txt.redacted.txt"))
	assert.NoError(t, err)

	store, err := openEvidenceStore()
	require.NoError(t, err)
	defer store.Close()
	batches, err := store.ListBatches(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 3, batches[0].TotalDocuments)
	ok, err := store.VerifyBatch(t.Context(), batches[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBatchCmd_JSONReport(t *testing.T) {
	dir, _, lexicon := cliEnv(t)
	in := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(in, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(in, "a.txt"), []byte(sampleText), 0o600))

	out, err := execute(t, batchCmd, "batch", "--ner", "static", "--lexicon", lexicon, "--evidence=false", "--format", "json", in)
	require.NoError(t, err)
	var report evidence.BatchReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.TotalDocuments)
	assert.Equal(t, 3, report.TotalFindings)
}

func TestBatchCmd_EmptyDir(t *testing.T) {
	dir, _, _ := cliEnv(t)
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o750))
	_, err := execute(t, batchCmd, "batch", "--ner", "static", empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no supported documents")
}

func TestEvaluateCmd(t *testing.T) {
	dir, _, lexicon := cliEnv(t)
	gold := filepath.Join(dir, "gold.json")
	require.NoError(t, os.WriteFile(gold, []byte(`[
  {"text": "`+sampleText+`", "labels": ["NOME_PESSOA", "CPF", "LOCATION"]},
  {"text": "Sem dados pessoais.", "labels": []},
  {"text": "Telefone (61) 99999-1234", "labels": ["TELEFONE", "EMAIL"]}
]`), 0o600))

	out, err := execute(t, evaluateCmd, "evaluate", "--ner", "static", "--lexicon", lexicon, gold)
	require.NoError(t, err)
	assert.Contains(t, out, "Examples:   3 (2 passed)")
	assert.Contains(t, out, "Precision:  1.000")
	assert.Contains(t, out, "Recall:     0.800")
	assert.Contains(t, out, "Failed examples:")

	_, err = execute(t, evaluateCmd, "evaluate", "--ner", "static", "--lexicon", lexicon, "--min-f1", "0.95", gold)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below threshold")
}

func TestValidateCmd(t *testing.T) {
	dir, _, _ := cliEnv(t)
	good := filepath.Join(dir, "recognizers.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`recognizers:
  - name: "Processo SEI"
    supported_entity: "STATE_ID"
    patterns:
      - name: "sei"
        regex: '\b\d{5}\.\d{6}/\d{4}-\d{2}\b'
`), 0o600))
	stop := filepath.Join(dir, "stoplist.yaml")
	require.NoError(t, os.WriteFile(stop, []byte("stoplist:\n  - \"processo sei\"\n"), 0o600))

	out, err := execute(t, validateCmd, "validate", "--strict", "-f", good, "--stoplist", stop)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Recognizers valid")
	assert.Contains(t, out, "(1 recognizers)")
	assert.Contains(t, out, "Mode: strict")
	assert.Contains(t, out, "✓ Stoplist valid")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`recognizers:
  - name: "broken"
    supported_entity: "STATE_ID"
    patterns:
      - name: "x"
        regex: '(unclosed'
`), 0o600))
	_, err = execute(t, validateCmd, "validate", "--strict", "-f", bad)
	require.Error(t, err)

	_, err = execute(t, validateCmd, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to validate")
}

func TestValidateCmd_Gold(t *testing.T) {
	dir, _, _ := cliEnv(t)
	gold := filepath.Join(dir, "gold.json")
	require.NoError(t, os.WriteFile(gold, []byte(`[{"texto": "CPF 123.456.789-09", "labels": ["CPF"]}]`), 0o600))

	out, err := execute(t, validateCmd, "validate", "--gold", gold)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Gold set valid")
	assert.Contains(t, out, "(1 examples)")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"text": "sem labels"}]`), 0o600))
	_, err = execute(t, validateCmd, "validate", "--gold", bad)
	require.Error(t, err)
}

func TestRedactCmd_OutAndReport(t *testing.T) {
	dir, doc, lexicon := cliEnv(t)
	outPath := filepath.Join(dir, "pedido.redacted.txt")
	reportPath := filepath.Join(dir, "report.json")

	out, err := execute(t, redactCmd, "redact", "--ner", "static", "--lexicon", lexicon,
		"--evidence=false", "-o", outPath, "--report", reportPath, doc)
	require.NoError(t, err)
	assert.Empty(t, out)

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, redactedSample+"\n", string(written))

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var records []evidence.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].FindingCount)
	assert.Equal(t, 1, records[0].ByType[classifier.NationalID])
}
