package patterns

// builtinVersion identifies the shipped rule set. Bump when rules change so
// audit records can name the catalog that produced a signal.
const builtinVersion = "2026.08.1"

// builtinRules returns the shipped signature set. Confidence values are
// fixed per rule and feed max-fusion scoring directly, so a single
// high-confidence hit is enough to force escalation.
func builtinRules() []Rule {
	var rules []Rule
	add := func(id, expr string, cat Category, conf float64, sev Severity, desc string) {
		rules = append(rules, Rule{
			ID: id, Expr: expr, Category: cat,
			Confidence: conf, Severity: sev, Description: desc,
		})
	}
	addLang := func(id, expr, lang string, cat Category, conf float64, sev Severity, desc string) {
		rules = append(rules, Rule{
			ID: id, Expr: expr, Category: cat, Language: lang,
			Confidence: conf, Severity: sev, Description: desc,
		})
	}

	// --- Instruction override ---
	cat := CategoryInstructionOverride
	add("override_ignore_previous", `(?i)(ignore|disregard|forget|bypass|override)\s+(all\s+)?(previous|prior|preceding|above|earlier|your)\s+(instructions?|rules?|guidelines?|constraints?|directives?|prompts?)`, cat, 0.92, SeverityHigh, "Direct instruction override")
	add("override_new_instructions", `(?i)(new|updated|real|actual)\s+instructions?\s*(:|follow|below|are)`, cat, 0.75, SeverityMedium, "Claimed replacement instructions")
	add("override_stop_following", `(?i)(stop|cease|quit)\s+(following|obeying|listening\s+to)\s+(the|your|those|these|all)`, cat, 0.85, SeverityHigh, "Stop-obeying directive")
	add("override_from_now_on", `(?i)from\s+now\s+on[, ]+\s*(you|ignore|forget|respond)`, cat, 0.7, SeverityMedium, "Persistent behavior override")
	add("override_system_marker", `(?i)(\[/?(system|inst)\]|<\|?(system|im_start)\|?>|###\s*system)`, cat, 0.8, SeverityHigh, "Injected chat-template system marker")

	// --- System-prompt extraction ---
	cat = CategoryPromptExtraction
	add("extract_system_prompt", `(?i)(reveal|show|print|output|display|repeat|tell\s+me)\s+(me\s+)?(your|the)\s+(system|initial|hidden|original|secret)\s+(prompt|instructions?|message)`, cat, 0.9, SeverityHigh, "System prompt extraction")
	add("extract_verbatim", `(?i)(repeat|echo|print)\s+(everything|all\s+text|the\s+text)\s+(above|before)`, cat, 0.85, SeverityHigh, "Verbatim context dump request")
	add("extract_what_instructions", `(?i)what\s+(are|were)\s+your\s+(instructions?|rules?|system\s+prompt)`, cat, 0.8, SeverityMedium, "Instruction enumeration probe")
	add("extract_credentials", `(?i)(reveal|expose|disclose|print|leak)\s+(the\s+|your\s+)?(api\s*keys?|passwords?|secrets?|credentials?|tokens?)`, cat, 0.88, SeverityCritical, "Credential extraction request")

	// --- Jailbreak / role manipulation ---
	cat = CategoryJailbreak
	add("jailbreak_dan", `(?i)\b(dan\s+mode|do\s+anything\s+now)\b`, cat, 0.9, SeverityHigh, "DAN-style jailbreak")
	add("jailbreak_developer_mode", `(?i)(developer|god|sudo|admin|root)\s+mode\s+(enabled|activated|on)`, cat, 0.88, SeverityHigh, "Privileged-mode claim")
	add("jailbreak_pretend", `(?i)(pretend|act\s+as\s+if|imagine)\s+(you\s+)?(are|to\s+be|you're)\s+(not\s+)?(an?\s+)?(ai|unrestricted|uncensored|free|evil|amoral)`, cat, 0.8, SeverityMedium, "Persona override")
	add("jailbreak_you_are_now", `(?i)you\s+are\s+now\s+(an?\s+)?\w{1,30}\s+(with(out)?|that\s+has)\s+(no\s+)?(restrictions?|limits?|filters?|rules?|guidelines?)`, cat, 0.85, SeverityHigh, "Unrestricted persona assignment")
	add("jailbreak_no_restrictions", `(?i)(without|no|free\s+of|remove)\s+(any\s+)?(restrictions?|limitations?|filters?|censorship|safeguards?|guardrails?)`, cat, 0.7, SeverityMedium, "Restriction removal request")
	add("jailbreak_hypothetical", `(?i)(hypothetically|in\s+a\s+fictional\s+world|for\s+a\s+story)[, ]+.{0,60}(illegal|harmful|dangerous|weapon|exploit)`, cat, 0.65, SeverityMedium, "Fiction-framed harmful request")

	// --- Encoding evasion (signals that survive normalization) ---
	cat = CategoryEncodingEvasion
	add("evasion_base64_blob", `\b[A-Za-z0-9+/]{40,}={0,2}\b`, cat, 0.5, SeverityMedium, "Long base64 payload")
	add("evasion_hex_escapes", `(\\x[0-9a-fA-F]{2}){4,}`, cat, 0.7, SeverityMedium, "Hex escape sequence run")
	add("evasion_unicode_escapes", `(\\u[0-9a-fA-F]{4}){4,}`, cat, 0.7, SeverityMedium, "Unicode escape sequence run")
	add("evasion_decode_request", `(?i)(decode|decrypt|unscramble|reverse)\s+(this|the\s+following|it)\s*(and|then)\s+(run|execute|follow|obey|do)`, cat, 0.85, SeverityHigh, "Decode-then-execute request")
	add("evasion_rot13_marker", `(?i)\b(vtaber|cerivbhf|flfgrz\s+cebzcg)\b`, cat, 0.8, SeverityHigh, "ROT13-encoded attack keyword")

	// --- Code / command injection ---
	cat = CategoryCodeInjection
	add("codeinj_eval", `(?i)\b(eval|exec)\s*\(`, cat, 0.75, SeverityHigh, "Dynamic code evaluation")
	add("codeinj_shell_chain", "(?i)(;|&&|\\|\\||`)\\s*(rm|curl|wget|nc|bash|sh|python)\\b", cat, 0.8, SeverityHigh, "Chained shell command")
	add("codeinj_script_tag", `(?i)<script[^>]{0,100}>`, cat, 0.8, SeverityHigh, "Script tag injection")
	add("codeinj_exfil_url", `(?i)(curl|wget|fetch)\s+(-\w{1,8}\s+){0,3}https?://`, cat, 0.7, SeverityMedium, "Outbound fetch of remote payload")
	add("codeinj_sql", `(?i)('\s*(or|and)\s+'?1'?\s*=\s*'?1|union\s+select|;\s*drop\s+table)`, cat, 0.8, SeverityHigh, "SQL injection fragment")
	add("codeinj_dev_tcp", `(?i)/dev/(tcp|udp)/`, cat, 0.85, SeverityHigh, "Bash network device redirection")

	// --- Social engineering ---
	cat = CategorySocialEngineering
	add("social_urgency_override", `(?i)(urgent|emergency|immediately|right\s+now)[!. ]+.{0,60}(bypass|skip|ignore|disable)\s+(the\s+)?(check|verification|review|approval|confirmation)`, cat, 0.75, SeverityMedium, "Urgency-framed control bypass")
	add("social_authority_claim", `(?i)(i\s+am|this\s+is)\s+(your\s+)?(developer|creator|administrator|admin|owner|an?\s+openai|an?\s+anthropic)\b`, cat, 0.7, SeverityMedium, "False authority claim")
	add("social_grandma", `(?i)(my\s+(dying|deceased)\s+grandmother|grandma\s+used\s+to\s+(tell|read))`, cat, 0.65, SeverityLow, "Sympathy-framed extraction")
	add("social_test_mode", `(?i)(this\s+is\s+(just\s+)?a\s+test|for\s+testing\s+purposes)[, ]+\s*(so\s+)?(ignore|bypass|disable|skip)`, cat, 0.75, SeverityMedium, "Test-framed control bypass")

	// --- Per-language variants ---
	cat = CategoryInstructionOverride
	addLang("override_es", `(?i)(ignora|olvida|descarta)\s+(todas?\s+)?(las?\s+)?(instrucciones|reglas)\s+(anteriores|previas)`, "es", cat, 0.9, SeverityHigh, "Instruction override (Spanish)")
	addLang("override_fr", `(?i)(ignore[rz]?|oublie[rz]?)\s+(toutes?\s+)?(les\s+)?(instructions|règles|consignes)\s+(précédentes|antérieures)`, "fr", cat, 0.9, SeverityHigh, "Instruction override (French)")
	addLang("override_de", `(?i)(ignoriere?n?|vergiss)\s+(alle\s+)?(vorherigen?|bisherigen?)\s+(anweisungen|regeln|instruktionen)`, "de", cat, 0.9, SeverityHigh, "Instruction override (German)")
	addLang("override_zh", `忽略(之前|以上|所有)的?(指令|指示|规则)`, "zh", cat, 0.9, SeverityHigh, "Instruction override (Chinese)")
	addLang("extract_es", `(?i)(muestra|revela|imprime)\s*(me)?\s+(tu|el)\s+(prompt|mensaje)\s+(del?\s+)?(sistema|inicial)`, "es", CategoryPromptExtraction, 0.85, SeverityHigh, "Prompt extraction (Spanish)")

	// --- Destructive commands (structured tool arguments) ---
	cat = CategoryDestructiveCommand
	add("destr_rm_rf", `(?i)\brm\s+(-\w{1,8}\s+){0,2}-[a-z]*r[a-z]*f|\brm\s+-[a-z]*f[a-z]*r`, cat, 0.95, SeverityCritical, "Recursive force delete")
	add("destr_rm_root", `(?i)\brm\s+.{0,40}\s(/|/\*|~|\$HOME)\s*$`, cat, 0.9, SeverityCritical, "Delete at filesystem root or home")
	add("destr_mkfs_dd", `(?i)\b(mkfs(\.\w{1,10})?|dd\s+if=.{0,60}of=/dev/)`, cat, 0.95, SeverityCritical, "Filesystem format or raw device write")
	add("destr_fork_bomb", `:\(\)\s*\{\s*:\|:&\s*\}\s*;?\s*:`, cat, 0.95, SeverityCritical, "Fork bomb")
	add("destr_drop_database", `(?i)\bdrop\s+(database|schema|table)\b`, cat, 0.85, SeverityHigh, "Database object drop")
	add("destr_git_force", `(?i)\bgit\s+push\s+(-\w{1,8}\s+){0,2}(--force|-f)\b`, cat, 0.7, SeverityMedium, "Force push rewriting history")
	add("destr_chmod_777", `(?i)\bchmod\s+(-R\s+)?777\b`, cat, 0.7, SeverityMedium, "World-writable permission change")
	add("destr_shutdown", `(?i)\b(shutdown|reboot|halt|poweroff)\b\s+(-\w{1,8}\s*){0,2}(now)?`, cat, 0.75, SeverityHigh, "Host shutdown or reboot")
	add("destr_history_wipe", `(?i)(history\s+-c|shred\s+|>\s*/dev/sda)`, cat, 0.85, SeverityHigh, "Evidence or disk wipe")
	add("destr_curl_pipe_sh", `(?i)(curl|wget)\s+[^|;]{1,200}\|\s*(sudo\s+)?(ba)?sh\b`, cat, 0.9, SeverityCritical, "Pipe remote script to shell")

	return rules
}
