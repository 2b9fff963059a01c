// Package pipeline implements the extraction stages that turn fetched pages
// into published program records: parse, validate, diff, verify, publish.
package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-sync/internal/fetcher"
	"github.com/sells-group/catalog-sync/internal/model"
)

// ParseError records a page that could not be parsed. Parse errors are
// non-fatal; the rest of the job continues.
type ParseError struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// ParseResult is the output of parsing one job's fetched pages.
type ParseResult struct {
	Programs   []model.Program
	URLsParsed []string
	Errors     []ParseError
}

// maxDocumentBytes caps the document size the regex extractors will scan.
const maxDocumentBytes = 5 << 20

// checkDocument rejects bodies the extractors cannot work with.
func checkDocument(res fetcher.Result) *ParseError {
	if len(strings.TrimSpace(res.Body)) == 0 {
		return &ParseError{URL: res.URL, Message: "empty document body"}
	}
	if len(res.Body) > maxDocumentBytes {
		return &ParseError{
			URL:     res.URL,
			Message: "document exceeds " + strconv.Itoa(maxDocumentBytes) + " bytes",
		}
	}
	return nil
}

// Extraction patterns, first match wins. A field with no match stays absent;
// the parser never fills in a guess.
var (
	programNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<h1[^>]*>(.*?)</h1>`),
		regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`),
		regexp.MustCompile(`(?i)program[:\s]+([^<\n]+)`),
	}
	tuitionFeePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)tuition[:\s$]+([\d,]+)`),
		regexp.MustCompile(`(?i)fee[:\s$]+([\d,]+)`),
	}
	applicationFeePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)application\s+fee[:\s$]+([\d,]+)`),
	}
	ieltsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ielts\s+score[:\s]+([\d.]+)`),
		regexp.MustCompile(`(?i)ielts[:\s]+([\d.]+)`),
	}
	toeflPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)toefl\s+score[:\s]+(\d+)`),
		regexp.MustCompile(`(?i)toefl[:\s]+(\d+)`),
	}
	languageWaiverPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:language\s+)?waiver[:\s]+([^<\n]{1,200})`),
		regexp.MustCompile(`(?i)medium\s+of\s+instruction[:\s]+([^<\n]{1,200})`),
	}
	admissionReqPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)admission\s+requirements?[:\s]+([^<\n]{1,300})`),
		regexp.MustCompile(`(?i)entry\s+requirements?[:\s]+([^<\n]{1,300})`),
		regexp.MustCompile(`(?i)minimum[^<\n]*?(\d+%)`),
	}
	backlogPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(backlog[^<]{0,200})`),
		regexp.MustCompile(`(?i)(re.?attempt[^<]{0,200})`),
	}
	scholarshipPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(scholarship[^<]{0,300})`),
		regexp.MustCompile(`(?i)(commonwealth[^<]{0,300})`),
		regexp.MustCompile(`(?i)(bursar(?:y|ies)[^<]{0,300})`),
	}
	intakePattern   = regexp.MustCompile(`(?i)(fall|spring|summer|winter)\s+(20\d\d)`)
	deadlinePattern = regexp.MustCompile(`(?i)deadline[:\s]+(\d{4}-\d{2}-\d{2})`)
)

// levelKeywords maps level indicators found near the top of a page to the
// program level they imply. Checked in order.
var levelKeywords = []struct {
	keyword string
	level   model.Level
}{
	{"PHD", model.LevelPhD},
	{"PH.D", model.LevelPhD},
	{"DOCTORATE", model.LevelPhD},
	{"POSTGRADUATE", model.LevelPostgraduate},
	{" MASTER", model.LevelPostgraduate},
	{"M.SC", model.LevelPostgraduate},
	{"M.A", model.LevelPostgraduate},
	{"M.B.A", model.LevelPostgraduate},
	{"UNDERGRADUATE", model.LevelUndergraduate},
	{" BACHELOR", model.LevelUndergraduate},
	{"B.SC", model.LevelUndergraduate},
	{"B.A", model.LevelUndergraduate},
}

// levelScanWindow bounds how much of the page is scanned for level
// indicators. Level markers live in headers and breadcrumbs, not body text.
const levelScanWindow = 5000

// Parser extracts structured program records from fetched pages. It only
// extracts; validation and verification happen downstream.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse walks the fetch results in order and extracts program records.
// Pages that fail to parse are reported in Errors without stopping the run.
func (p *Parser) Parse(results []fetcher.Result, universityName string, country model.Country) ParseResult {
	log := zap.L().Named("parser")
	out := ParseResult{}
	seen := make(map[string]bool)

	for _, res := range results {
		out.URLsParsed = append(out.URLsParsed, res.URL)

		if !strings.Contains(res.ContentType, "text/html") && !strings.Contains(res.ContentType, "text/plain") {
			log.Debug("skipping non-HTML content",
				zap.String("url", res.URL),
				zap.String("content_type", res.ContentType))
			continue
		}

		if err := checkDocument(res); err != nil {
			log.Warn("unparseable document",
				zap.String("url", res.URL),
				zap.String("reason", err.Message))
			out.Errors = append(out.Errors, *err)
			continue
		}

		program, ok := p.parsePage(res, universityName, country)
		if !ok {
			log.Debug("no program extracted", zap.String("url", res.URL))
			continue
		}
		if seen[program.ID] {
			log.Debug("duplicate program on later page, keeping first",
				zap.String("url", res.URL),
				zap.String("program_id", program.ID))
			continue
		}
		seen[program.ID] = true
		out.Programs = append(out.Programs, *program)
	}

	log.Info("parsing complete",
		zap.Int("programs_found", len(out.Programs)),
		zap.Int("urls_parsed", len(out.URLsParsed)),
		zap.Int("errors", len(out.Errors)))
	return out
}

// parsePage extracts a single program from one page. Returns false when not
// even a program name could be found.
func (p *Parser) parsePage(res fetcher.Result, universityName string, country model.Country) (*model.Program, bool) {
	html := string(res.Body)

	programName := extractField(html, programNamePatterns)
	if programName == "" {
		return nil, false
	}
	programName = collapseWhitespace(stripTags(programName))

	now := time.Now().UTC()
	universityID := model.SubjectID(universityName)
	direct := model.DirectSource(res.URL, res.FetchedAt)
	inferred := model.InferredSource(res.URL, res.FetchedAt)

	program := &model.Program{
		ID:             universityID + "-" + model.SubjectID(programName),
		UniversityName: *model.NewField(universityName, direct),
		ProgramName:    *model.NewField(programName, direct),
		Level:          parseLevel(html),
		Country:        country,
		Intakes:        parseIntakes(html, res.URL, res.FetchedAt),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Verbatim labeled values carry direct confidence; values pulled from
	// surrounding prose are inferred.
	if v := extractField(html, tuitionFeePatterns); v != "" {
		program.TuitionFee = model.NewField(v, direct)
	}
	if v := extractField(html, applicationFeePatterns); v != "" {
		program.ApplicationFee = model.NewField(v, direct)
	}
	if v := extractField(html, ieltsPatterns); v != "" {
		program.IELTSScore = model.NewField(v, direct)
	}
	if v := extractField(html, toeflPatterns); v != "" {
		program.TOEFLScore = model.NewField(v, direct)
	}
	if v := extractField(html, languageWaiverPatterns); v != "" {
		program.LanguageWaiver = model.NewField(collapseWhitespace(v), inferred)
	}
	if v := extractField(html, admissionReqPatterns); v != "" {
		program.AdmissionRequirements = model.NewField(collapseWhitespace(v), inferred)
	}
	if v := extractField(html, backlogPatterns); v != "" {
		program.BacklogPolicy = model.NewField(collapseWhitespace(v), inferred)
	}
	if v := extractField(html, scholarshipPatterns); v != "" {
		program.Scholarships = model.NewField(collapseWhitespace(v), inferred)
	}

	return program, true
}

// extractField tries each pattern in order and returns the first capture.
// Returns "" when nothing matched.
func extractField(html string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(html); len(m) > 1 && strings.TrimSpace(m[1]) != "" {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// parseLevel scans the top of the page for level indicators. Defaults to
// undergraduate when nothing identifies the level.
func parseLevel(html string) model.Level {
	window := html
	if len(window) > levelScanWindow {
		window = window[:levelScanWindow]
	}
	upper := strings.ToUpper(window)
	for _, lk := range levelKeywords {
		if strings.Contains(upper, lk.keyword) {
			return lk.level
		}
	}
	return model.LevelUndergraduate
}

// parseIntakes extracts intake cycles mentioned on the page. An ISO deadline
// near an intake mention is attached as an application deadline.
func parseIntakes(html, url string, fetchedAt time.Time) []model.Intake {
	matches := intakePattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		return nil
	}

	inferred := model.InferredSource(url, fetchedAt)

	var deadlines []model.Deadline
	for _, m := range deadlinePattern.FindAllStringSubmatch(html, -1) {
		deadlines = append(deadlines, model.Deadline{
			Date: *model.NewField(m[1], model.DirectSource(url, fetchedAt)),
			Type: model.DeadlineApplication,
		})
	}

	seen := make(map[string]bool)
	var intakes []model.Intake
	for _, m := range matches {
		term := model.IntakeTerm(strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:]))
		year, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		key := string(term) + m[2]
		if seen[key] {
			continue
		}
		seen[key] = true
		intake := model.Intake{
			Term:     term,
			Year:     year,
			IsActive: *model.NewField(true, inferred),
		}
		// Only the first intake gets the page's deadlines; attributing the
		// same dates to every cycle would fabricate precision.
		if len(intakes) == 0 {
			intake.Deadlines = deadlines
		}
		intakes = append(intakes, intake)
	}
	return intakes
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, " ")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
