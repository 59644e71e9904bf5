// Package booking は予約管理サービスの内部実装を提供する。
//
// 顧客、予約、テナントごとの予約設定、空き枠の算出、公開予約、統計を扱う。
// 予約の重なり判定は条件付きの単一SQL文で行い、同時予約でも二重予約にならない。
// 顧客と予約の変更はドメインイベントとしてEvent Storeへ送信する。
package booking
