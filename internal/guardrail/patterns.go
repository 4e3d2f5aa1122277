package guardrail

import "regexp"

// rewriteRule pairs a violation pattern with its descriptive replacement
type rewriteRule struct {
	re          *regexp.Regexp
	replacement string
}

// patternSet holds one language's compiled pattern buckets
type patternSet struct {
	prescriptive []*regexp.Regexp
	advice       []rewriteRule
	opinion      []rewriteRule
	certainty    []rewriteRule
}

func rx(pattern string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + pattern)
}

func rule(pattern, replacement string) rewriteRule {
	return rewriteRule{re: rx(pattern), replacement: replacement}
}

// patternLibrary holds the per-language pattern sets. English patterns
// additionally run against non-English input to catch code-switching.
var patternLibrary = map[string]*patternSet{
	LangEnglish: {
		prescriptive: []*regexp.Regexp{
			rx(`\byou (must|should|need to|have to|ought to)\b`),
			rx(`\bwe (recommend|advise|suggest|urge)\b`),
			rx(`\b(strongly )?recommended?\b`),
			rx(`\bdo not (miss|wait|hesitate)\b`),
		},
		advice: []rewriteRule{
			rule(`\byou should buy\b`, "one may consider reviewing options to acquire"),
			rule(`\byou should sell\b`, "one may consider reviewing options to divest"),
			rule(`\byou (should|must|need to) invest in\b`, "some market participants follow"),
			rule(`\bbuy (now|immediately|today)\b`, "the asset is currently tradable"),
			rule(`\bsell (now|immediately|today)\b`, "the asset is currently tradable"),
			rule(`\bwe recommend (buying|selling|holding)\b`, "market data shows activity around"),
		},
		opinion: []rewriteRule{
			rule(`\b(massively |deeply |severely )?undervalued\b`, "trading below some analyst models"),
			rule(`\b(massively |deeply |severely )?overvalued\b`, "trading above some analyst models"),
			rule(`\bno[- ]brainer\b`, "a frequently discussed position"),
			rule(`\bguaranteed (returns?|profits?|gains?)\b`, "historically observed returns"),
			rule(`\bcan'?t lose\b`, "has performed well in some periods"),
			rule(`\bsure thing\b`, "a widely watched position"),
		},
		certainty: []rewriteRule{
			rule(`\bwill (rise|surge|soar|rally|moon)\b`, "has shown upward movement in some periods"),
			rule(`\bwill (fall|drop|crash|tank|plummet)\b`, "has shown downward movement in some periods"),
			rule(`\bgoing to (hit|reach|break)\b`, "has been discussed around"),
			rule(`\b(is )?predicted to\b`, "has been projected by some models to"),
			rule(`\bwill (double|triple|10x)\b`, "has been subject to speculative projections"),
		},
	},
	LangSpanish: {
		prescriptive: []*regexp.Regexp{
			rx(`\b(debes|deberías|debe|tienes que)\b`),
			rx(`\b(recomendamos|aconseja(mos)?|sugerimos)\b`),
		},
		advice: []rewriteRule{
			rule(`\bdeberías comprar\b`, "existen opciones de compra para"),
			rule(`\bdeberías vender\b`, "existen opciones de venta para"),
			rule(`\bcompra (ahora|ya|hoy)\b`, "el activo está disponible para negociación"),
			rule(`\brecomendamos (comprar|vender)\b`, "los datos de mercado muestran actividad en"),
		},
		opinion: []rewriteRule{
			rule(`\binfravalorad[oa]\b`, "cotizando por debajo de algunos modelos"),
			rule(`\bsobrevalorad[oa]\b`, "cotizando por encima de algunos modelos"),
			rule(`\bganancias garantizadas\b`, "rendimientos observados históricamente"),
		},
		certainty: []rewriteRule{
			rule(`\bva a (subir|dispararse)\b`, "ha mostrado movimientos alcistas en algunos períodos"),
			rule(`\bva a (bajar|caer|desplomarse)\b`, "ha mostrado movimientos bajistas en algunos períodos"),
			rule(`\bsubirá\b`, "ha mostrado movimientos alcistas en algunos períodos"),
		},
	},
	LangFrench: {
		prescriptive: []*regexp.Regexp{
			rx(`\bvous (devez|devriez)\b`),
			rx(`\bnous (recommandons|conseillons|suggérons)\b`),
		},
		advice: []rewriteRule{
			rule(`\bvous devriez acheter\b`, "des options d'achat existent pour"),
			rule(`\bvous devriez vendre\b`, "des options de vente existent pour"),
			rule(`\bachetez (maintenant|aujourd'hui)\b`, "l'actif est actuellement négociable"),
			rule(`\bnous recommandons d'acheter\b`, "les données de marché montrent une activité sur"),
		},
		opinion: []rewriteRule{
			rule(`\bsous-évaluée?\b`, "se négocie en dessous de certains modèles"),
			rule(`\bsurévaluée?\b`, "se négocie au-dessus de certains modèles"),
			rule(`\bgains garantis\b`, "rendements observés historiquement"),
		},
		certainty: []rewriteRule{
			rule(`\bva (monter|grimper|exploser)\b`, "a montré des mouvements haussiers sur certaines périodes"),
			rule(`\bva (baisser|chuter|s'effondrer)\b`, "a montré des mouvements baissiers sur certaines périodes"),
		},
	},
	LangGerman: {
		prescriptive: []*regexp.Regexp{
			rx(`\bsie (sollten|müssen)\b`),
			rx(`\bwir empfehlen\b`),
		},
		advice: []rewriteRule{
			rule(`\bsie sollten .{0,30}kaufen\b`, "es bestehen Kaufoptionen"),
			rule(`\bsie sollten .{0,30}verkaufen\b`, "es bestehen Verkaufsoptionen"),
			rule(`\bjetzt kaufen\b`, "der Wert ist derzeit handelbar"),
			rule(`\bwir empfehlen den kauf\b`, "Marktdaten zeigen Aktivität bei"),
		},
		opinion: []rewriteRule{
			rule(`\bunterbewertet\b`, "notiert unter einigen Analystenmodellen"),
			rule(`\büberbewertet\b`, "notiert über einigen Analystenmodellen"),
			rule(`\bgarantierte (gewinne|renditen)\b`, "historisch beobachtete Renditen"),
		},
		certainty: []rewriteRule{
			rule(`\bwird (steigen|durchstarten)\b`, "zeigte in einigen Zeiträumen Aufwärtsbewegungen"),
			rule(`\bwird (fallen|abstürzen|einbrechen)\b`, "zeigte in einigen Zeiträumen Abwärtsbewegungen"),
		},
	},
	LangItalian: {
		prescriptive: []*regexp.Regexp{
			rx(`\b(dovresti|dovrebbe|devi)\b`),
			rx(`\b(raccomandiamo|consigliamo)\b`),
		},
		advice: []rewriteRule{
			rule(`\bdovresti comprare\b`, "esistono opzioni di acquisto per"),
			rule(`\bdovresti vendere\b`, "esistono opzioni di vendita per"),
			rule(`\bcompra (ora|subito|oggi)\b`, "il titolo è attualmente negoziabile"),
		},
		opinion: []rewriteRule{
			rule(`\bsottovalutat[oa]\b`, "scambiato sotto alcuni modelli di analisi"),
			rule(`\bsopravvalutat[oa]\b`, "scambiato sopra alcuni modelli di analisi"),
			rule(`\bguadagni garantiti\b`, "rendimenti osservati storicamente"),
		},
		certainty: []rewriteRule{
			rule(`\bsalirà\b`, "ha mostrato movimenti al rialzo in alcuni periodi"),
			rule(`\bcrollerà\b`, "ha mostrato movimenti al ribasso in alcuni periodi"),
		},
	},
	LangPortuguese: {
		prescriptive: []*regexp.Regexp{
			rx(`\b(você deve|deveria|tem que)\b`),
			rx(`\b(recomendamos|aconselhamos)\b`),
		},
		advice: []rewriteRule{
			rule(`\bvocê deve comprar\b`, "existem opções de compra para"),
			rule(`\bvocê deve vender\b`, "existem opções de venda para"),
			rule(`\bcompre (agora|já|hoje)\b`, "o ativo está atualmente negociável"),
		},
		opinion: []rewriteRule{
			rule(`\bsubvalorizad[oa]\b`, "negociado abaixo de alguns modelos de análise"),
			rule(`\bsobrevalorizad[oa]\b`, "negociado acima de alguns modelos de análise"),
			rule(`\bganhos garantidos\b`, "retornos observados historicamente"),
		},
		certainty: []rewriteRule{
			rule(`\bvai (subir|disparar)\b`, "mostrou movimentos de alta em alguns períodos"),
			rule(`\bvai (cair|despencar)\b`, "mostrou movimentos de baixa em alguns períodos"),
		},
	},
	LangJapanese: {
		prescriptive: []*regexp.Regexp{
			rx(`(すべき|するべき|しなければならない)`),
			rx(`(推奨します|お勧めします)`),
		},
		advice: []rewriteRule{
			rule(`買うべき(です)?`, "購入の選択肢が存在します"),
			rule(`売るべき(です)?`, "売却の選択肢が存在します"),
			rule(`今すぐ(買って|購入して)ください`, "現在取引可能です"),
		},
		opinion: []rewriteRule{
			rule(`割安(株|銘柄)?`, "一部のモデルを下回る水準で取引されています"),
			rule(`割高(株|銘柄)?`, "一部のモデルを上回る水準で取引されています"),
			rule(`(利益|リターン)は保証され`, "過去に観測されたリターンがあり"),
		},
		certainty: []rewriteRule{
			rule(`(必ず|確実に)上がり`, "一部の期間で上昇が観測され"),
			rule(`(必ず|確実に)下がり`, "一部の期間で下落が観測され"),
			rule(`急騰する(でしょう|はず)`, "上昇局面が議論されています"),
		},
	},
	LangChinese: {
		prescriptive: []*regexp.Regexp{
			rx(`(你应该|您应该|必须|一定要)`),
			rx(`(我们推荐|我们建议|强烈推荐)`),
		},
		advice: []rewriteRule{
			rule(`(你|您)应该买入?`, "存在买入选项："),
			rule(`(你|您)应该卖出?`, "存在卖出选项："),
			rule(`立即(买入|购买)`, "该资产当前可交易"),
			rule(`我们(推荐|建议)买入`, "市场数据显示活跃交易于"),
		},
		opinion: []rewriteRule{
			rule(`被(严重)?低估`, "交易价格低于部分分析模型"),
			rule(`被(严重)?高估`, "交易价格高于部分分析模型"),
			rule(`保证(收益|盈利|回报)`, "历史上观察到的回报"),
		},
		certainty: []rewriteRule{
			rule(`(必将|一定会|肯定会)上涨`, "在部分时期出现过上涨"),
			rule(`(必将|一定会|肯定会)下跌`, "在部分时期出现过下跌"),
			rule(`预测.{0,10}(达到|突破)`, "部分模型曾讨论"),
		},
	},
	LangFarsi: {
		prescriptive: []*regexp.Regexp{
			rx(`(باید|حتما باید)`),
			rx(`(توصیه می\s?کنیم|پیشنهاد می\s?کنیم)`),
		},
		advice: []rewriteRule{
			rule(`باید .{0,30}بخرید`, "گزینه‌های خرید موجود است"),
			rule(`باید .{0,30}بفروشید`, "گزینه‌های فروش موجود است"),
			rule(`همین حالا بخرید`, "این دارایی در حال حاضر قابل معامله است"),
		},
		opinion: []rewriteRule{
			rule(`کمتر از ارزش واقعی`, "پایین‌تر از برخی مدل‌های تحلیلی معامله می‌شود"),
			rule(`سود تضمینی`, "بازده مشاهده‌شده در گذشته"),
		},
		certainty: []rewriteRule{
			rule(`قطعا (بالا|رشد) می\s?رود`, "در برخی دوره‌ها رشد مشاهده شده است"),
			rule(`قطعا (پایین|سقوط) می\s?(رود|کند)`, "در برخی دوره‌ها افت مشاهده شده است"),
		},
	},
}

// descriptiveRules is the English-only second pass that shifts any
// surviving imperative phrasing into descriptive register.
var descriptiveRules = []rewriteRule{
	rule(`\byou should buy\b`, "purchasing options are available for"),
	rule(`\byou should sell\b`, "selling options are available for"),
	rule(`\byou (should|could|might want to) consider\b`, "some market participants consider"),
	rule(`\bmake sure (to|you)\b`, "it is common practice to"),
	rule(`\bdon'?t miss\b`, "some follow"),
}

// cleanupRules repair grammar artifacts left behind by the rewrites
var cleanupRules = []rewriteRule{
	rule(`\b(the|a|an) (the|a|an)\b`, "$2"),
	rule(`\b(is|are|was|were) (is|are|was|were)\b`, "$2"),
	rule(`\b(to|of|in) (to|of|in)\b`, "$2"),
	{re: regexp.MustCompile(`  +`), replacement: " "},
	{re: regexp.MustCompile(` ([,.!?])`), replacement: "$1"},
}
