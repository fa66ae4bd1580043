package imagegen

// StreamEvent は画像生成ストリームの1イベントを表すタグ付きユニオンです。
// Decoder がプロバイダのワイヤーイベントをこのいずれかに分類します。
type StreamEvent interface {
	isStreamEvent()
}

// ResponseIdentified はプロバイダが生成に対して永続的な相関ID
// (レスポンスID) を払い出したことを示します。このイベント自体は
// ストリームを終了させません。
type ResponseIdentified struct {
	ID string
}

// PartialArtifact は生成途中のプレビュー画像1フレームです。
// SequenceIndex はストリーム内で単調非減少ですが、欠番はあり得ます。
type PartialArtifact struct {
	ImageData     []byte
	SequenceIndex int
}

// FinalArtifact は完成した画像です。ストリームの有効な内容としては終端です。
type FinalArtifact struct {
	ImageData []byte
}

// Failure はストリーム処理中の失敗をイベントとして運びます。
// Client がトランスポートエラーやデコードエラーをこの形で配送します。
type Failure struct {
	Err error
}

func (ResponseIdentified) isStreamEvent() {}
func (PartialArtifact) isStreamEvent()    {}
func (FinalArtifact) isStreamEvent()      {}
func (Failure) isStreamEvent()            {}
