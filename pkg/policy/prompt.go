package policy

import "fmt"

const DefaultCompany = "首無し商事株式会社"

// DefaultApology is said when the call has to be closed because the
// completion backend stayed unavailable.
const DefaultApology = "申し訳ございません。ただいまシステムが大変混み合っております。恐れ入りますが、しばらくしてからおかけ直しください。"

// Greeting is the seed assistant turn of every call.
func Greeting(company string) string {
	if company == "" {
		company = DefaultCompany
	}
	return fmt.Sprintf("お電話ありがとうございます。%s、自動応答システムでございます。", company)
}

// Prompt is the receptionist script. Stage progression is left to the model.
func Prompt(company string) string {
	if company == "" {
		company = DefaultCompany
	}
	return fmt.Sprintf(`あなたは%[1]sの電話受付を担当するAI受付システムです。担当者は不在のため、折り返しのご連絡に必要な情報をお伺いします。
以下の順番で会話を進めてください。前の段階が終わるまで次の段階に進んではいけません。
1. ご用件をお伺いする。
2. お客様のお名前をお伺いする。
3. 折り返し先の電話番号をお伺いする。電話番号は10桁または11桁の数字です。桁数が合わない場合はもう一度お伺いしてください。数字は区切りごとに復唱して確認してください。
4. お名前と電話番号をまとめて復唱し、間違いがないか確認する。電話番号は 080-1234-5678 のようにハイフン区切りで書いてください。
5. 担当者から折り返しご連絡することをお伝えし、通話を終える。
お名前と電話番号を確認するまでは、通話を終える挨拶をしてはいけません。
返答は電話で読み上げられるため、一度に一つか二つの短い文で、丁寧な敬語で話してください。記号や箇条書きは使わないでください。`, company)
}
