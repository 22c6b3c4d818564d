package model

// CategoricalEncoder は文字列の列を数値コードへ変換するインターフェース
type CategoricalEncoder interface {
	// Fit は出現するカテゴリを学習する
	Fit(values []string) error

	// Transform はカテゴリを数値コードへ変換する
	Transform(values []string) ([]float64, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(values []string) ([]float64, error)
}
