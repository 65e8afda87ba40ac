package mathml

var identifiers = map[string]string{
	`\alpha`: "α", `\beta`: "β", `\gamma`: "γ", `\delta`: "δ", `\epsilon`: "ϵ",
	`\varepsilon`: "ε", `\zeta`: "ζ", `\eta`: "η", `\theta`: "θ", `\vartheta`: "ϑ",
	`\iota`: "ι", `\kappa`: "κ", `\lambda`: "λ", `\mu`: "μ", `\nu`: "ν",
	`\xi`: "ξ", `\pi`: "π", `\varpi`: "ϖ", `\rho`: "ρ", `\sigma`: "σ",
	`\tau`: "τ", `\upsilon`: "υ", `\phi`: "ϕ", `\varphi`: "φ", `\chi`: "χ",
	`\psi`: "ψ", `\omega`: "ω",
	`\Gamma`: "Γ", `\Delta`: "Δ", `\Theta`: "Θ", `\Lambda`: "Λ", `\Xi`: "Ξ",
	`\Pi`: "Π", `\Sigma`: "Σ", `\Upsilon`: "Υ", `\Phi`: "Φ", `\Psi`: "Ψ",
	`\Omega`: "Ω",
	`\infty`: "∞", `\partial`: "∂", `\nabla`: "∇", `\hbar`: "ℏ", `\ell`: "ℓ",
	`\emptyset`: "∅", `\aleph`: "ℵ", `\Re`: "ℜ", `\Im`: "ℑ",
}

var operators = map[string]string{
	`\pm`: "±", `\mp`: "∓", `\times`: "×", `\div`: "÷", `\cdot`: "⋅",
	`\ast`: "∗", `\star`: "⋆", `\circ`: "∘", `\bullet`: "∙",
	`\leq`: "≤", `\le`: "≤", `\geq`: "≥", `\ge`: "≥", `\neq`: "≠", `\ne`: "≠",
	`\approx`: "≈", `\equiv`: "≡", `\sim`: "∼", `\simeq`: "≃", `\cong`: "≅",
	`\propto`: "∝", `\ll`: "≪", `\gg`: "≫",
	`\in`: "∈", `\notin`: "∉", `\ni`: "∋", `\subset`: "⊂", `\supset`: "⊃",
	`\subseteq`: "⊆", `\supseteq`: "⊇", `\cup`: "∪", `\cap`: "∩",
	`\setminus`: "∖", `\forall`: "∀", `\exists`: "∃", `\neg`: "¬",
	`\land`: "∧", `\wedge`: "∧", `\lor`: "∨", `\vee`: "∨",
	`\to`: "→", `\rightarrow`: "→", `\leftarrow`: "←", `\gets`: "←",
	`\Rightarrow`: "⇒", `\Leftarrow`: "⇐", `\leftrightarrow`: "↔",
	`\Leftrightarrow`: "⇔", `\iff`: "⟺", `\implies`: "⟹", `\mapsto`: "↦",
	`\ldots`: "…", `\cdots`: "⋯", `\vdots`: "⋮", `\ddots`: "⋱",
	`\langle`: "⟨", `\rangle`: "⟩", `\lfloor`: "⌊", `\rfloor`: "⌋",
	`\lceil`: "⌈", `\rceil`: "⌉", `\mid`: "∣", `\parallel`: "∥",
	`\perp`: "⊥", `\angle`: "∠", `\prime`: "′", `\|`: "‖",
}

var largeOperators = map[string]string{
	`\sum`: "∑", `\prod`: "∏", `\coprod`: "∐", `\int`: "∫", `\iint`: "∬",
	`\iiint`: "∭", `\oint`: "∮", `\bigcup`: "⋃", `\bigcap`: "⋂",
	`\lim`: "lim", `\max`: "max", `\min`: "min", `\sup`: "sup", `\inf`: "inf",
}

var functions = map[string]string{
	`\sin`: "sin", `\cos`: "cos", `\tan`: "tan", `\cot`: "cot", `\sec`: "sec",
	`\csc`: "csc", `\arcsin`: "arcsin", `\arccos`: "arccos", `\arctan`: "arctan",
	`\sinh`: "sinh", `\cosh`: "cosh", `\tanh`: "tanh", `\log`: "log",
	`\ln`: "ln", `\exp`: "exp", `\det`: "det", `\dim`: "dim", `\gcd`: "gcd",
	`\deg`: "deg", `\arg`: "arg", `\ker`: "ker",
}

var spaces = map[string]string{
	`\,`: "0.1667em", `\:`: "0.2222em", `\;`: "0.2778em", `\!`: "-0.1667em",
	`\quad`: "1em", `\qquad`: "2em", `\ `: "0.333em",
}

var fonts = map[string]string{
	`\mathrm`: "normal", `\mathbf`: "bold", `\mathit`: "italic",
	`\mathbb`: "double-struck", `\mathcal`: "script", `\mathfrak`: "fraktur",
	`\mathsf`: "sans-serif", `\mathtt`: "monospace", `\boldsymbol`: "bold-italic",
}

var accents = map[string]string{
	`\hat`: "^", `\widehat`: "^", `\bar`: "¯", `\overline`: "¯",
	`\vec`: "→", `\dot`: "˙", `\ddot`: "¨", `\tilde`: "~", `\widetilde`: "~",
}
