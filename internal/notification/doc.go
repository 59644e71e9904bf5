// Package notification は通知サービスの内部実装を提供する。
//
// 通知はユーザーごとの通知設定（カテゴリ別の受信可否と静音時間）に従って
// 作成され、WebSocketとメールで配信される。予約や顧客の登録といった業務イベントは
// Event Storeをポーリングするリレーが受け取り、テナントの管理者宛ての通知に変換する。
package notification
