package models

// DataStatus names the variant of a DataState.
type DataStatus string

const (
	StatusIdle            DataStatus = "idle"
	StatusChecking        DataStatus = "checking"
	StatusDownloading     DataStatus = "downloading"
	StatusDecompressing   DataStatus = "decompressing"
	StatusReady           DataStatus = "ready"
	StatusUpdateAvailable DataStatus = "update-available"
	StatusError           DataStatus = "error"
)

// DataState is the single source of truth for the data acquisition state.
// Each variant is its own type so that only the fields meaningful for that
// state can be set.
type DataState interface {
	Status() DataStatus
}

// Idle means no snapshot is cached and nothing is in progress.
type Idle struct{}

// Checking means the remote marker is being fetched.
type Checking struct {
	Message string `json:"message,omitempty"`
}

// Downloading carries live download progress.
type Downloading struct {
	// Progress is 0-100, or 0 when TotalBytes is unknown.
	Progress        int    `json:"progress"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	TotalBytes      *int64 `json:"totalBytes,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Decompressing covers both decompression and persisting to the cache.
type Decompressing struct {
	Message string `json:"message,omitempty"`
}

// Ready means a usable snapshot is in the cache.
type Ready struct {
	Message string `json:"message,omitempty"`
}

// UpdateAvailable means the server marker differs from the cached one.
type UpdateAvailable struct {
	ServerDataDate string `json:"serverDataDate"`
	Message        string `json:"message,omitempty"`
}

// Failed is the error variant. Kind tells the presentation layer whether a
// retry makes sense.
type Failed struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"error"`
}

func (Idle) Status() DataStatus            { return StatusIdle }
func (Checking) Status() DataStatus        { return StatusChecking }
func (Downloading) Status() DataStatus     { return StatusDownloading }
func (Decompressing) Status() DataStatus   { return StatusDecompressing }
func (Ready) Status() DataStatus           { return StatusReady }
func (UpdateAvailable) Status() DataStatus { return StatusUpdateAvailable }
func (Failed) Status() DataStatus          { return StatusError }

// User-visible messages.
const (
	MsgChecking         = "更新を確認中..."
	MsgUpToDate         = "データは最新です"
	MsgDownloading      = "ダウンロード中..."
	MsgDecompressing    = "展開中..."
	MsgSaving           = "ファイルを保存中..."
	MsgDownloadComplete = "ダウンロード完了"
	MsgCapability       = "キャッシュディレクトリを利用できません。書き込み可能なディレクトリを指定してください。"
	MsgCacheLoadFailed  = "キャッシュデータの読み込みに失敗しました"
	MsgCheckFailed      = "更新の確認に失敗しました。ネットワーク接続を確認してください。"
	MsgDownloadFailed   = "データのダウンロードに失敗しました"
	MsgNoData           = "データがありません"
	MsgDBInitFailed     = "DBの初期化に失敗しました"
	MsgDBFileMissing    = "DBファイルが見つかりません"
	MsgGroupsFailed     = "グループ情報の取得に失敗しました"
	MsgUpdateAvailable  = "新しいデータがあります (%s)"
)
